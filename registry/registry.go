// Model registry and training lifecycle.
// Owns trained model versions: asynchronous training tasks, metadata rows,
// artifact persistence and active-model resolution for the forecast API.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"sales-forecasting-platform/config"
	"sales-forecasting-platform/forecast"
	"sales-forecasting-platform/prom"
	"sales-forecasting-platform/store"
)

// Task statuses.
const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

// ErrNoModel is returned when a product has no active trained model of the
// requested type.
var ErrNoModel = errors.New("no active model")

// Task tracks one asynchronous training request.
type Task struct {
	ID          string    `json:"task_id"`
	ProductID   string    `json:"product_id"`
	ModelType   string    `json:"model_type"`
	Status      string    `json:"status"`
	ModelIDs    []string  `json:"model_ids,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	StartedAt   time.Time `json:"started_at,omitempty"`
	CompletedAt time.Time `json:"completed_at,omitempty"`
}

// Registry coordinates training, model metadata and artifacts.
type Registry struct {
	store     *store.Store
	engine    *forecast.Engine
	artifacts *ArtifactStore
	cfg       config.ForecastingConfig
	log       *logrus.Entry

	mu    sync.RWMutex
	tasks map[string]*Task
	wg    sync.WaitGroup
}

// New creates a registry.
func New(st *store.Store, engine *forecast.Engine, artifacts *ArtifactStore, cfg config.ForecastingConfig, log *logrus.Logger) *Registry {
	return &Registry{
		store:     st,
		engine:    engine,
		artifacts: artifacts,
		cfg:       cfg,
		log:       log.WithField("component", "registry"),
		tasks:     make(map[string]*Task),
	}
}

// validModelType reports whether the name is trainable: an enabled model or
// "ensemble" for all enabled models at once.
func (r *Registry) validModelType(name string) bool {
	if name == forecast.ModelEnsemble {
		return true
	}
	for _, enabled := range r.cfg.EnabledModels {
		if name == enabled {
			return true
		}
	}
	return false
}

// StartTraining queues an asynchronous training run and returns the task
// immediately. The caller polls the task by id.
func (r *Registry) StartTraining(ctx context.Context, productID, modelType string, hyperparameters map[string]float64) (*Task, error) {
	if modelType == "" {
		modelType = forecast.ModelEnsemble
	}
	if !r.validModelType(modelType) {
		return nil, fmt.Errorf("unknown model type: %s", modelType)
	}

	exists, err := r.store.HasProduct(productID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("no sales history for product %s", productID)
	}

	task := &Task{
		ID:        uuid.NewString(),
		ProductID: productID,
		ModelType: modelType,
		Status:    TaskPending,
		CreatedAt: time.Now().UTC(),
	}
	r.mu.Lock()
	r.tasks[task.ID] = task
	r.mu.Unlock()

	// The task must outlive the caller: an HTTP request context is canceled
	// as soon as the handler writes its response.
	bg := context.WithoutCancel(ctx)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runTask(bg, task.ID, productID, modelType, hyperparameters)
	}()

	return r.taskCopy(task.ID), nil
}

func (r *Registry) runTask(ctx context.Context, taskID, productID, modelType string, hyperparameters map[string]float64) {
	r.updateTask(taskID, func(t *Task) {
		t.Status = TaskRunning
		t.StartedAt = time.Now().UTC()
	})

	metas, err := r.Train(ctx, productID, modelType, hyperparameters)
	if err != nil {
		r.log.WithError(err).WithFields(logrus.Fields{
			"product_id": productID,
			"model_type": modelType,
		}).Warn("training task failed")
		r.updateTask(taskID, func(t *Task) {
			t.Status = TaskFailed
			t.Error = err.Error()
			t.CompletedAt = time.Now().UTC()
		})
		return
	}

	ids := make([]string, len(metas))
	for i, m := range metas {
		ids[i] = m.ID
	}
	r.updateTask(taskID, func(t *Task) {
		t.Status = TaskCompleted
		t.ModelIDs = ids
		t.CompletedAt = time.Now().UTC()
	})
}

// Train fits and persists models synchronously. For "ensemble" every enabled
// model is trained; otherwise just the named one. Returns the created
// metadata rows.
func (r *Registry) Train(ctx context.Context, productID, modelType string, hyperparameters map[string]float64) ([]store.ModelMetadata, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := r.trainingData(productID)
	if err != nil {
		return nil, err
	}

	names := []string{modelType}
	if modelType == forecast.ModelEnsemble {
		names = r.cfg.EnabledModels
	}

	var metas []store.ModelMetadata
	var lastErr error
	for _, name := range names {
		trained, err := r.engine.TrainOne(name, data, hyperparameters)
		if err != nil {
			lastErr = err
			r.log.WithError(err).WithFields(logrus.Fields{
				"product_id": productID,
				"model_type": name,
			}).Warn("model failed to train")
			continue
		}

		meta, err := r.persist(productID, name, trained, data, hyperparameters)
		if err != nil {
			return nil, err
		}
		metas = append(metas, *meta)
	}

	if len(metas) == 0 {
		if lastErr != nil {
			return nil, lastErr
		}
		return nil, fmt.Errorf("no models trained")
	}
	return metas, nil
}

// persist writes the metadata row and the artifact for one trained model.
func (r *Registry) persist(productID, name string, trained forecast.Trained, data []forecast.DataPoint, hyperparameters map[string]float64) (*store.ModelMetadata, error) {
	version, err := r.store.NextModelVersion(productID, name)
	if err != nil {
		return nil, err
	}

	var hyperJSON string
	if len(hyperparameters) > 0 {
		raw, err := json.Marshal(hyperparameters)
		if err != nil {
			return nil, errors.Wrap(err, "encode hyperparameters")
		}
		hyperJSON = string(raw)
	}

	meta := &store.ModelMetadata{
		ID:              uuid.NewString(),
		ProductID:       productID,
		ModelType:       name,
		Version:         version,
		TrainedAt:       time.Now().UTC(),
		TrainStart:      data[0].Date,
		TrainEnd:        data[len(data)-1].Date,
		TrainPoints:     len(data),
		Hyperparameters: hyperJSON,
		MAE:             trained.Metrics.MAE,
		RMSE:            trained.Metrics.RMSE,
		MAPE:            trained.Metrics.MAPE,
		R2:              trained.Metrics.R2,
		Coverage:        trained.Metrics.Coverage,
		IsActive:        true,
	}

	path, err := r.artifacts.Save(meta, trained.Model)
	if err != nil {
		return nil, err
	}
	meta.ArtifactPath = path

	if err := r.store.CreateModelMetadata(meta); err != nil {
		return nil, err
	}
	prom.ModelsTrained.WithLabelValues(name).Inc()

	r.log.WithFields(logrus.Fields{
		"product_id": productID,
		"model_type": name,
		"version":    version,
		"points":     len(data),
		"r2":         trained.Metrics.R2,
	}).Info("model trained")
	return meta, nil
}

// trainingData loads a product's sales history as daily demand points.
func (r *Registry) trainingData(productID string) ([]forecast.DataPoint, error) {
	records, err := r.store.GetSalesRange(productID, time.Time{}, time.Time{}, r.cfg.MaxTrainPoints)
	if err != nil {
		return nil, err
	}
	if len(records) < r.cfg.MinTrainPoints {
		return nil, fmt.Errorf("insufficient data: %d points, minimum %d required",
			len(records), r.cfg.MinTrainPoints)
	}

	points := make([]forecast.DataPoint, len(records))
	for i, rec := range records {
		points[i] = forecast.DataPoint{Date: rec.Date, Value: float64(rec.Quantity)}
	}
	return points, nil
}

// ActiveTrained resolves the trained models to use for a forecast request.
// "ensemble" loads every active model; "auto" picks the active model with the
// best stored accuracy; anything else loads that specific type. Returns
// ErrNoModel when nothing usable is active.
func (r *Registry) ActiveTrained(productID, modelType string) (map[string]forecast.Trained, error) {
	active, err := r.store.ActiveModels(productID)
	if err != nil {
		return nil, err
	}
	if len(active) == 0 {
		return nil, ErrNoModel
	}

	switch modelType {
	case forecast.ModelEnsemble:
		// Keep all of them.
	case forecast.ModelAuto, "":
		best := active[0]
		for _, m := range active[1:] {
			if m.R2 > best.R2 {
				best = m
			}
		}
		active = []store.ModelMetadata{best}
	default:
		var match []store.ModelMetadata
		for _, m := range active {
			if m.ModelType == modelType {
				match = append(match, m)
			}
		}
		if len(match) == 0 {
			return nil, ErrNoModel
		}
		active = match
	}

	trained := make(map[string]forecast.Trained, len(active))
	for _, meta := range active {
		model, err := r.artifacts.Load(r.engine, &meta)
		if err != nil {
			r.log.WithError(err).WithField("model_id", meta.ID).Warn("artifact load failed")
			continue
		}
		trained[meta.ModelType] = forecast.Trained{
			Model: model,
			Metrics: forecast.Metrics{
				MAE:      meta.MAE,
				RMSE:     meta.RMSE,
				MAPE:     meta.MAPE,
				R2:       meta.R2,
				Coverage: meta.Coverage,
			},
		}
	}
	if len(trained) == 0 {
		return nil, ErrNoModel
	}
	return trained, nil
}

// EnsureTrained returns active trained models, training on demand when the
// product has none of the requested type yet.
func (r *Registry) EnsureTrained(ctx context.Context, productID, modelType string) (map[string]forecast.Trained, error) {
	trained, err := r.ActiveTrained(productID, modelType)
	if err == nil {
		return trained, nil
	}
	if !errors.Is(err, ErrNoModel) {
		return nil, err
	}

	trainType := modelType
	if trainType == forecast.ModelAuto || trainType == "" {
		trainType = forecast.ModelEnsemble
	}
	if _, err := r.Train(ctx, productID, trainType, nil); err != nil {
		return nil, err
	}
	return r.ActiveTrained(productID, modelType)
}

// GetTask returns a snapshot of a training task, or nil if unknown.
func (r *Registry) GetTask(id string) *Task {
	return r.taskCopy(id)
}

// ListTasks returns snapshots of all tracked tasks, newest first.
func (r *Registry) ListTasks() []*Task {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tasks := make([]*Task, 0, len(r.tasks))
	for id := range r.tasks {
		tasks = append(tasks, r.snapshotLocked(id))
	}
	for i := 0; i < len(tasks); i++ {
		for j := i + 1; j < len(tasks); j++ {
			if tasks[j].CreatedAt.After(tasks[i].CreatedAt) {
				tasks[i], tasks[j] = tasks[j], tasks[i]
			}
		}
	}
	return tasks
}

// Wait blocks until all in-flight training tasks finish. Used on shutdown.
func (r *Registry) Wait() {
	r.wg.Wait()
}

func (r *Registry) updateTask(id string, fn func(*Task)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.tasks[id]; ok {
		fn(t)
	}
}

func (r *Registry) taskCopy(id string) *Task {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked(id)
}

func (r *Registry) snapshotLocked(id string) *Task {
	t, ok := r.tasks[id]
	if !ok {
		return nil
	}
	cp := *t
	cp.ModelIDs = append([]string(nil), t.ModelIDs...)
	return &cp
}
