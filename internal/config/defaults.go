package config

// MaxPageSize is the largest page the upstream API accepts.
const MaxPageSize = 200

// DefaultCategories is the allow-list used when none is configured.
var DefaultCategories = []string{"Pony", "Illustrious", "SDXL 1.0", "Flux.1 D", "SD 1.5"}

// ApplyDefaults sets default values for any zero values in cfg.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Storage.DatabasePath == "" {
		cfg.Storage.DatabasePath = ".promptforge/data/promptforge.db"
	}
	if cfg.Storage.HistoryIndexPath == "" {
		cfg.Storage.HistoryIndexPath = ".promptforge/data/history.bleve"
	}
	if cfg.Upstream.BaseURL == "" {
		cfg.Upstream.BaseURL = "https://civitai.com/api/v1/images"
	}
	if cfg.Upstream.APIKeyEnv == "" {
		cfg.Upstream.APIKeyEnv = "CIVITAI_API_KEY"
	}
	if cfg.Upstream.PageSize == 0 {
		cfg.Upstream.PageSize = MaxPageSize
	}
	if cfg.Upstream.Sort == "" {
		cfg.Upstream.Sort = "Most Reactions"
	}
	if cfg.Upstream.Period == "" {
		cfg.Upstream.Period = "Month"
	}
	if cfg.Upstream.TimeoutSecs == 0 {
		cfg.Upstream.TimeoutSecs = 30
	}
	if cfg.Vector.Type == "" {
		cfg.Vector.Type = "memory"
	}
	if cfg.Vector.Collection == "" {
		cfg.Vector.Collection = "civitai_images"
	}
	if cfg.Vector.Qdrant.Host == "" {
		cfg.Vector.Qdrant.Host = "localhost"
	}
	if cfg.Vector.Qdrant.Port == 0 {
		cfg.Vector.Qdrant.Port = 6334
	}
	if cfg.Vector.Qdrant.APIKeyEnv == "" {
		cfg.Vector.Qdrant.APIKeyEnv = "QDRANT_API_KEY"
	}
	if cfg.Embedding.Type == "" {
		cfg.Embedding.Type = "onnx"
	}
	if cfg.Embedding.ModelID == "" {
		cfg.Embedding.ModelID = "BAAI/bge-small-en-v1.5"
	}
	if cfg.Embedding.Type == "onnx" && cfg.Embedding.ModelPath == "" {
		cfg.Embedding.ModelPath = ".promptforge/models/bge-small-en-v1.5.onnx"
	}
	if cfg.Embedding.Dimensions == 0 {
		cfg.Embedding.Dimensions = 384
	}
	if cfg.Embedding.MaxTokens == 0 {
		cfg.Embedding.MaxTokens = 256
	}
	if cfg.Embedding.CacheSize == 0 {
		cfg.Embedding.CacheSize = 10000
	}
	if cfg.Ingest.Categories == nil {
		cfg.Ingest.Categories = append([]string(nil), DefaultCategories...)
	}
	if cfg.Ingest.TargetCount == 0 {
		cfg.Ingest.TargetCount = 200
	}
	if cfg.RAG.TopK == 0 {
		cfg.RAG.TopK = 5
	}
	if cfg.RAG.MaxContextChars == 0 {
		cfg.RAG.MaxContextChars = 4000
	}
	if cfg.Seen.Type == "" {
		cfg.Seen.Type = "memory"
	}
	if cfg.Seen.Key == "" {
		cfg.Seen.Key = "promptforge:seen"
	}
	if cfg.LLM.BaseURL == "" {
		cfg.LLM.BaseURL = "http://localhost:11434"
	}
	if cfg.LLM.Model == "" {
		cfg.LLM.Model = "llama3.1"
	}
	if cfg.LLM.TimeoutSecs == 0 {
		cfg.LLM.TimeoutSecs = 90
	}
}
