package registry

import (
	"compress/gzip"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sales-forecasting-platform/forecast"
	"sales-forecasting-platform/store"
)

// artifactEnvelope is the on-disk format for a persisted model: a small
// header plus the model's own serialized state, gzip-compressed.
type artifactEnvelope struct {
	ModelID   string          `json:"model_id"`
	ProductID string          `json:"product_id"`
	ModelType string          `json:"model_type"`
	Version   int             `json:"model_version"`
	SavedAt   time.Time       `json:"saved_at"`
	State     json.RawMessage `json:"state"`
}

// ArtifactStore persists trained model state to compressed files so models
// can be reloaded without retraining.
type ArtifactStore struct {
	dataPath string
}

// NewArtifactStore creates the artifact directory if needed.
func NewArtifactStore(dataPath string) (*ArtifactStore, error) {
	if err := os.MkdirAll(dataPath, 0755); err != nil {
		return nil, fmt.Errorf("create artifact directory: %w", err)
	}
	return &ArtifactStore{dataPath: dataPath}, nil
}

// Save writes the model's state for the given metadata row and returns the
// artifact file path.
func (a *ArtifactStore) Save(meta *store.ModelMetadata, model forecast.Model) (string, error) {
	state, err := model.State()
	if err != nil {
		return "", fmt.Errorf("serialize model state: %w", err)
	}

	envelope := artifactEnvelope{
		ModelID:   meta.ID,
		ProductID: meta.ProductID,
		ModelType: meta.ModelType,
		Version:   meta.Version,
		SavedAt:   time.Now().UTC(),
		State:     state,
	}

	path := filepath.Join(a.dataPath, meta.ID+".json.gz")
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create artifact file: %w", err)
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	if err := json.NewEncoder(gz).Encode(&envelope); err != nil {
		gz.Close()
		return "", fmt.Errorf("write artifact: %w", err)
	}
	if err := gz.Close(); err != nil {
		return "", fmt.Errorf("flush artifact: %w", err)
	}
	return path, nil
}

// Load reads an artifact file and restores the model state into a freshly
// constructed model of the recorded type.
func (a *ArtifactStore) Load(engine *forecast.Engine, meta *store.ModelMetadata) (forecast.Model, error) {
	path := meta.ArtifactPath
	if path == "" {
		path = filepath.Join(a.dataPath, meta.ID+".json.gz")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open artifact: %w", err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("read artifact: %w", err)
	}
	defer gz.Close()

	var envelope artifactEnvelope
	if err := json.NewDecoder(gz).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode artifact: %w", err)
	}
	if envelope.ModelType != meta.ModelType {
		return nil, fmt.Errorf("artifact type %s does not match metadata type %s",
			envelope.ModelType, meta.ModelType)
	}

	model, err := engine.NewModel(meta.ModelType, nil)
	if err != nil {
		return nil, err
	}
	if err := model.Restore(envelope.State); err != nil {
		return nil, fmt.Errorf("restore model state: %w", err)
	}
	return model, nil
}

// Delete removes an artifact file. Missing files are not an error.
func (a *ArtifactStore) Delete(meta *store.ModelMetadata) error {
	path := meta.ArtifactPath
	if path == "" {
		path = filepath.Join(a.dataPath, meta.ID+".json.gz")
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete artifact: %w", err)
	}
	return nil
}
