package config

import (
	"os"
	"path/filepath"
	"strconv"
)

type Config struct {
	// relayd
	RelayAddr     string
	OllamaBaseURL string
	DefaultModel  string
	TitleModel    string

	// chat client
	RelayBaseURL string
	DBPath       string

	// optional cross-process refresh signal
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

func Load() Config {
	relayAddr := os.Getenv("RELAY_ADDR")
	if relayAddr == "" {
		relayAddr = ":8080"
	}

	ollamaBaseURL := os.Getenv("OLLAMA_BASE_URL")
	if ollamaBaseURL == "" {
		ollamaBaseURL = "http://localhost:11434"
	}

	defaultModel := os.Getenv("OLLAMA_MODEL")
	if defaultModel == "" {
		defaultModel = "gemma3:latest"
	}

	titleModel := os.Getenv("TITLE_MODEL")
	if titleModel == "" {
		titleModel = defaultModel
	}

	relayBaseURL := os.Getenv("RELAY_BASE_URL")
	if relayBaseURL == "" {
		relayBaseURL = "http://localhost:8080"
	}

	dbPath := os.Getenv("CHAT_DB_PATH")
	if dbPath == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dbPath = filepath.Join(home, ".chatrelay", "chats.db")
		} else {
			dbPath = "chats.db"
		}
	}

	redisDB := 0
	if v := os.Getenv("REDIS_DB"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			redisDB = n
		}
	}

	return Config{
		RelayAddr:     relayAddr,
		OllamaBaseURL: ollamaBaseURL,
		DefaultModel:  defaultModel,
		TitleModel:    titleModel,

		RelayBaseURL: relayBaseURL,
		DBPath:       dbPath,

		RedisAddr:     os.Getenv("REDIS_ADDR"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       redisDB,
	}
}
