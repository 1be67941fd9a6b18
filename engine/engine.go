// Package engine is the entry point of the NLU engine. It trains models
// on worker processes, keeps the loaded ones in a memory-bounded cache and
// serves predictions from them.
package engine

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/nlu/am"
	"github.com/teranos/nlu/entities"
	"github.com/teranos/nlu/errors"
	"github.com/teranos/nlu/logger"
	"github.com/teranos/nlu/model"
	"github.com/teranos/nlu/pipeline"
	"github.com/teranos/nlu/pulse/training"
	"github.com/teranos/nlu/tools"
)

// EngineContext carries every collaborator of an Engine.
type EngineContext struct {
	Tools tools.Tools
	// SystemEntities caches the recognizer of Tools; nil builds a
	// memory-only cache per call.
	SystemEntities *entities.SystemEntityCache
	Queue          *training.Queue
	// Store persists trained models; nil keeps them in the caller's hands only.
	Store  *model.Store
	Logger *zap.SugaredLogger

	closers []func() error
}

// TrainOptions tune a training.
type TrainOptions struct {
	// Seed overrides the seed of the training set.
	Seed *int64
	// PreviousModel is the id of a loaded model. Only the contexts whose
	// definitions changed since that model are retrained.
	PreviousModel string
	Progress      tools.ProgressFunc
}

// Engine trains, loads and queries models.
type Engine struct {
	ectx *EngineContext
	cfg  *am.Config
	log  *zap.SugaredLogger

	models *modelCache
	now    func() time.Time
}

// New builds an Engine on top of already initialized collaborators.
func New(ectx *EngineContext, cfg *am.Config) (*Engine, error) {
	if ectx == nil || ectx.Tools == nil {
		return nil, errors.New("engine needs tools")
	}
	if ectx.Queue == nil {
		return nil, errors.New("engine needs a training queue")
	}
	if cfg == nil {
		cfg = am.Default()
	}
	log := ectx.Logger
	if log == nil {
		log = logger.ComponentLogger("engine")
	}

	models, err := newModelCache(cfg.ModelCacheBytes(), log)
	if err != nil {
		return nil, err
	}
	specs := ectx.Tools.GetSpecifications()
	if specs.NLUVersion == "" || specs.LanguageServer.Version == "" {
		log.Warnw("Either the engine version or the language server version is not set")
	}
	log.Debugw("Model cache ready", "max_bytes", cfg.ModelCacheBytes())

	return &Engine{ectx: ectx, cfg: cfg, log: log, models: models, now: time.Now}, nil
}

// Close stops the training workers and releases the collaborators
// Initialize created.
func (e *Engine) Close() error {
	errs := e.ectx.Queue.Close()
	for i := len(e.ectx.closers) - 1; i >= 0; i-- {
		if err := e.ectx.closers[i](); err != nil {
			errs = errors.WithSecondaryError(err, errs)
		}
	}
	return errs
}

// Train trains set on a worker and returns the serialized model. When
// the model store is enabled the model is saved too.
func (e *Engine) Train(ctx context.Context, trainID string, set model.TrainSet, opts TrainOptions) (*model.Model, error) {
	if trainID == "" {
		trainID = uuid.NewString()
	}
	if err := e.checkLanguage(set.LanguageCode); err != nil {
		return nil, err
	}
	switch {
	case opts.Seed != nil:
		set.Seed = *opts.Seed
	case set.Seed == 0:
		set.Seed = e.ectx.Tools.Seed()
	}
	if set.Seed < 0 {
		return nil, errors.NewInvalidRequestError("seed must not be negative, got %d", set.Seed)
	}
	log := e.log.With(logger.FieldTrainID, trainID, logger.FieldLanguage, set.LanguageCode)

	var previous *loadedModel
	if opts.PreviousModel != "" {
		var ok bool
		if previous, ok = e.models.get(opts.PreviousModel); !ok {
			log.Warnw("Previous model is not loaded, training every context", logger.FieldModelID, opts.PreviousModel)
		}
	}

	listCaches := map[string][]entities.ListCacheEntry{}
	if previous != nil {
		for _, l := range previous.predictors.ListEntities {
			if l.Cache != nil {
				listCaches[l.EntityName] = l.Cache.Dump()
			}
		}
	}
	input := model.BuildTrainInput(trainID, set, listCaches)

	var changes model.ContextChangeLog
	if previous != nil {
		changes = model.GetModifiedContexts(input.Intents, previous.model.Input.Intents)
		input.CtxToTrain = changes.Retrain()
		log.Infow("Retraining modified contexts only", "contexts", input.CtxToTrain)
	} else {
		log.Infow("Training every context", "contexts", input.Contexts)
	}

	startedAt := e.now()
	output, err := e.ectx.Queue.StartTraining(ctx, input, opts.Progress)
	if err != nil {
		return nil, err
	}
	if previous != nil {
		merged := model.MergeOutputs(previous.model.Output, *output, changes)
		output = &merged
	}

	id := model.MakeID(set.EntityDefs, set.IntentDefs, set.LanguageCode, set.Seed, e.ectx.Tools.GetSpecifications())
	m, err := model.Serialize(model.PredictableModel{
		ID:         id,
		StartedAt:  startedAt,
		FinishedAt: e.now(),
		Input:      input,
		Output:     *output,
	})
	if err != nil {
		return nil, err
	}
	log.Infow("Training finished", logger.FieldModelID, id.String(),
		logger.FieldDurationMS, m.FinishedAt.Sub(m.StartedAt).Milliseconds())

	if e.ectx.Store != nil {
		e.persist(ctx, m, log)
	}
	return &m, nil
}

// persist saves m and prunes old models. Failures are logged; the caller
// still gets the trained model.
func (e *Engine) persist(ctx context.Context, m model.Model, log *zap.SugaredLogger) {
	if err := e.ectx.Store.Save(ctx, m); err != nil {
		log.Warnw("Failed to store model", logger.FieldModelID, m.ID.String(), logger.FieldError, err)
		return
	}
	if keep := e.cfg.Database.KeepModels; keep > 0 {
		n, err := e.ectx.Store.Prune(ctx, keep)
		if err != nil {
			log.Warnw("Failed to prune stored models", logger.FieldError, err)
			return
		}
		if n > 0 {
			log.Infow("Pruned stored models", logger.FieldCount, n)
		}
	}
}

func (e *Engine) checkLanguage(languageCode string) error {
	if languageCode == "" {
		return errors.NewInvalidRequestError("training set has no language")
	}
	for _, l := range e.GetLanguages() {
		if l == languageCode {
			return nil
		}
	}
	return errors.NewInvalidRequestError("language %q is not available", languageCode)
}

// CancelTraining stops trainID and waits for its worker to be gone.
func (e *Engine) CancelTraining(ctx context.Context, trainID string) error {
	return e.ectx.Queue.CancelTraining(ctx, trainID)
}

// LoadModel validates m and makes it available for prediction. Loading
// an already loaded model is a no-op.
func (e *Engine) LoadModel(ctx context.Context, m model.Model) error {
	id := m.ID.String()
	if e.models.contains(id) {
		e.log.Debugw("Model already loaded", logger.FieldModelID, id)
		return nil
	}

	pm, err := model.Deserialize(m)
	if err != nil {
		return err
	}
	predictors, err := pipeline.LoadPredictors(pm.Input, pm.Output, e.ectx.Tools.MLToolkit(), e.cfg.Cache.ListEntityMaxEntries)
	if err != nil {
		return errors.Wrapf(err, "failed to load model %s", id)
	}

	size := estimateModelSize(m, pm)
	if err := e.models.add(id, &loadedModel{model: pm, predictors: predictors, size: size}); err != nil {
		return err
	}
	e.log.Infow("Model loaded", logger.FieldModelID, id, logger.FieldSize, size, "loaded", e.models.keys())
	return nil
}

// LoadStoredModel loads the model id from the model store.
func (e *Engine) LoadStoredModel(ctx context.Context, id string) error {
	if e.ectx.Store == nil {
		return errors.WithHint(errors.New("model store is disabled"), "set database.store_models = true")
	}
	parsed, err := model.ParseID(id)
	if err != nil {
		return err
	}
	if e.models.contains(id) {
		return nil
	}
	m, err := e.ectx.Store.Get(ctx, parsed)
	if err != nil {
		return err
	}
	return e.LoadModel(ctx, *m)
}

// UnloadModel drops a loaded model. It reports whether the model was loaded.
func (e *Engine) UnloadModel(id string) bool {
	return e.models.remove(id)
}

// HasModel reports whether id is loaded.
func (e *Engine) HasModel(id string) bool {
	return e.models.contains(id)
}

// LoadedModels lists loaded model ids, least recently used first.
func (e *Engine) LoadedModels() []string {
	return e.models.keys()
}

// SetModelCacheSize changes the capacity of the model cache, evicting
// models if needed.
func (e *Engine) SetModelCacheSize(maxBytes int64) {
	e.models.resize(maxBytes)
}

func (e *Engine) loaded(id string) (*loadedModel, error) {
	lm, ok := e.models.get(id)
	if !ok {
		return nil, errors.Mark(errors.Newf("model %s not loaded", id), errors.ErrModelNotLoaded)
	}
	return lm, nil
}

func (e *Engine) env() pipeline.Env {
	return pipeline.Env{
		Tools:          e.ectx.Tools,
		SystemEntities: e.ectx.SystemEntities,
		ListCacheSize:  e.cfg.Cache.ListEntityMaxEntries,
		Logger:         e.log,
	}
}

// Predict understands text with the model id. includedContexts narrows
// the contexts considered when the model cannot tell them apart.
func (e *Engine) Predict(ctx context.Context, text string, includedContexts []string, id string) (*pipeline.PredictOutput, error) {
	lm, err := e.loaded(id)
	if err != nil {
		return nil, err
	}
	return pipeline.Predict(ctx, pipeline.PredictInput{Text: text, IncludedContexts: includedContexts}, e.env(), lm.predictors)
}

// Health describes the engine and the services it depends on.
type Health struct {
	tools.Health
	ModelsLoaded       int              `json:"modelsLoaded"`
	ModelCacheBytes    int64            `json:"modelCacheBytes"`
	ModelCacheMaxBytes int64            `json:"modelCacheMaxBytes"`
	Training           training.Metrics `json:"training"`
}

func (e *Engine) GetHealth() Health {
	used, maxBytes, count := e.models.stats()
	return Health{
		Health:             e.ectx.Tools.GetHealth(),
		ModelsLoaded:       count,
		ModelCacheBytes:    used,
		ModelCacheMaxBytes: maxBytes,
		Training:           e.ectx.Queue.Metrics(),
	}
}

// GetLanguages lists the languages models can be trained for: those of
// the language services, restricted to engine.languages when set.
func (e *Engine) GetLanguages() []string {
	available := e.ectx.Tools.GetLanguages()
	allowed := e.cfg.Engine.Languages
	if len(allowed) == 0 {
		return available
	}
	keep := make(map[string]bool, len(allowed))
	for _, l := range allowed {
		keep[l] = true
	}
	var out []string
	for _, l := range available {
		if keep[l] {
			out = append(out, l)
		}
	}
	return out
}

func (e *Engine) GetSpecifications() tools.Specifications {
	return e.ectx.Tools.GetSpecifications()
}

// ComputeModelHash hashes the definitions relevant to languageCode along
// with the current specifications. Equal hashes mean a training would
// produce an equivalent model.
func (e *Engine) ComputeModelHash(intentDefs []model.IntentDefinition, entityDefs []model.EntityDefinition, languageCode string) string {
	type singleLangIntent struct {
		Name       string   `json:"name"`
		Contexts   []string `json:"contexts"`
		Slots      any      `json:"slots"`
		Utterances []string `json:"utterances"`
	}
	intents := make([]singleLangIntent, len(intentDefs))
	for i, def := range intentDefs {
		intents[i] = singleLangIntent{Name: def.Name, Contexts: def.Contexts, Slots: def.Slots, Utterances: def.Utterances[languageCode]}
	}
	raw, _ := json.Marshal(struct {
		Intents  []singleLangIntent       `json:"singleLangIntents"`
		Entities []model.EntityDefinition `json:"entities"`
		Specs    tools.Specifications     `json:"specifications"`
	}{intents, entityDefs, e.ectx.Tools.GetSpecifications()})
	sum := md5.Sum(raw)
	return hex.EncodeToString(sum[:])
}
