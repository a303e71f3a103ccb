package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/face-compare/internal/detector"
	"github.com/example/face-compare/internal/facematch"
	"github.com/example/face-compare/internal/logging"
	"github.com/example/face-compare/internal/render"
	"github.com/example/face-compare/internal/repository"
)

// ErrUnsupportedImage is returned for uploads that are not png, jpg, jpeg or gif images.
var ErrUnsupportedImage = errors.New("unsupported image")

var allowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
}

// AllowedFile reports whether a filename carries a supported image extension.
func AllowedFile(name string) bool {
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	return ext != "" && allowedExtensions[strings.ToLower(ext)]
}

// ComparisonRepository defines the persistence operations needed by the use case.
type ComparisonRepository interface {
	SaveLog(ctx context.Context, log *repository.ComparisonLog) error
	FindByRequestIDAndUser(ctx context.Context, requestID, userID string) (*repository.ComparisonLog, error)
	AggregateMetrics(ctx context.Context) (*repository.MetricsAggregation, error)
}

// Options are the comparison defaults applied when a request leaves them empty.
type Options struct {
	Threshold float64
	Method    detector.Method
	Strategy  facematch.Strategy
}

// Upload is one uploaded image.
type Upload struct {
	Name string
	Data []byte
}

// ComparisonRequest asks for the faces of two images to be matched against each other.
type ComparisonRequest struct {
	First     Upload
	Second    Upload
	Method    detector.Method
	Threshold float64
	Strategy  facematch.Strategy
}

// ImageReport holds the per-face results for one image and its annotated rendition.
type ImageReport struct {
	Name        string                  `json:"name"`
	Faces       []facematch.MatchResult `json:"faces"`
	Annotated   []byte                  `json:"-"`
	ContentType string                  `json:"-"`
}

// ComparisonReport is the outcome of CompareImages.
type ComparisonReport struct {
	RequestID string         `json:"request_id"`
	Method    string         `json:"method"`
	Strategy  string         `json:"strategy"`
	Threshold float64        `json:"threshold"`
	Images    [2]ImageReport `json:"images"`
}

// ComparisonUseCase encapsulates business logic for the comparison flow.
type ComparisonUseCase struct {
	repo           ComparisonRepository
	cache          Cache
	detector       detector.Detector
	logger         *zap.Logger
	defaults       Options
	retryAttempts  int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

type cachedComparison struct {
	RequestID   string    `json:"request_id"`
	UserID      string    `json:"user_id"`
	FirstImage  string    `json:"first_image"`
	SecondImage string    `json:"second_image"`
	Method      string    `json:"method"`
	Strategy    string    `json:"strategy"`
	Threshold   float64   `json:"threshold"`
	FacesFirst  int       `json:"faces_first"`
	FacesSecond int       `json:"faces_second"`
	MatchCount  int       `json:"match_count"`
	Details     string    `json:"details"`
	LatencyMs   int64     `json:"latency_ms"`
	CreatedAt   time.Time `json:"created_at"`
}

type comparisonDetails struct {
	First  []facematch.MatchResult `json:"first"`
	Second []facematch.MatchResult `json:"second"`
}

// NewComparisonUseCase constructs a new use case instance.
func NewComparisonUseCase(repo ComparisonRepository, cache Cache, det detector.Detector, logger *zap.Logger, defaults Options) *ComparisonUseCase {
	if defaults.Threshold <= 0 {
		defaults.Threshold = facematch.DefaultThreshold
	}
	if defaults.Method == "" {
		defaults.Method = detector.MethodHOG
	}
	if defaults.Strategy == "" {
		defaults.Strategy = facematch.StrategyLast
	}
	return &ComparisonUseCase{
		repo:           repo,
		cache:          cache,
		detector:       det,
		logger:         logger.Named("comparison_usecase"),
		defaults:       defaults,
		retryAttempts:  3,
		initialBackoff: 50 * time.Millisecond,
		maxBackoff:     time.Second,
	}
}

// CompareImages detects faces in both images, matches them in both directions,
// annotates the matched faces and records the outcome.
func (uc *ComparisonUseCase) CompareImages(ctx context.Context, userID string, req ComparisonRequest) (*ComparisonReport, error) {
	start := time.Now()
	if !AllowedFile(req.First.Name) || !AllowedFile(req.Second.Name) {
		return nil, fmt.Errorf("%w: allowed extensions are png, jpg, jpeg and gif", ErrUnsupportedImage)
	}
	req = uc.withDefaults(req)

	requestID := uuid.NewString()
	opLogger := logging.WithOperation(uc.logger, "usecase.compare_images", requestID)

	img1, format1, err := render.Decode(req.First.Data)
	if err != nil {
		return nil, logging.NewOperationError("usecase.decode_image", requestID, fmt.Errorf("%w: %s: %v", ErrUnsupportedImage, req.First.Name, err))
	}
	img2, format2, err := render.Decode(req.Second.Data)
	if err != nil {
		return nil, logging.NewOperationError("usecase.decode_image", requestID, fmt.Errorf("%w: %s: %v", ErrUnsupportedImage, req.Second.Name, err))
	}

	key := cacheKey(requestID)
	if err := uc.withRedisRetry(ctx, requestID, "cache.set.processing", func() error {
		return uc.cache.Set(ctx, key, processingMarker, processingTTL)
	}); err != nil {
		opLogger.Error("failed to set processing flag", zap.Error(err))
		return nil, err
	}

	faces1, err := uc.detector.Detect(ctx, req.First.Data, req.Method)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.detect_faces", requestID, err)
		opLogger.Error("face detection failed", zap.Error(wrapped), zap.String("image", req.First.Name))
		return nil, wrapped
	}
	faces2, err := uc.detector.Detect(ctx, req.Second.Data, req.Method)
	if err != nil {
		wrapped := logging.NewOperationError("usecase.detect_faces", requestID, err)
		opLogger.Error("face detection failed", zap.Error(wrapped), zap.String("image", req.Second.Name))
		return nil, wrapped
	}

	matcher := facematch.Matcher{Threshold: req.Threshold, Strategy: req.Strategy}
	results1, err := matcher.Match(faces1, faces2)
	if err != nil {
		return nil, logging.NewOperationError("usecase.match_faces", requestID, err)
	}
	results2, err := matcher.Match(faces2, faces1)
	if err != nil {
		return nil, logging.NewOperationError("usecase.match_faces", requestID, err)
	}

	// Both images are annotated from the first direction of the comparison.
	annotated1, err := annotate(img1, format1, facematch.MatchedLocations(results1))
	if err != nil {
		return nil, logging.NewOperationError("usecase.annotate", requestID, err)
	}
	annotated2, err := annotate(img2, format2, facematch.MatchingLocations(results1))
	if err != nil {
		return nil, logging.NewOperationError("usecase.annotate", requestID, err)
	}

	details, err := json.Marshal(comparisonDetails{First: results1, Second: results2})
	if err != nil {
		opLogger.Error("failed to serialize comparison details", zap.Error(err))
		return nil, err
	}

	log := &repository.ComparisonLog{
		RequestID:   requestID,
		UserID:      userID,
		FirstImage:  req.First.Name,
		SecondImage: req.Second.Name,
		Method:      string(req.Method),
		Strategy:    string(req.Strategy),
		Threshold:   req.Threshold,
		FacesFirst:  len(faces1),
		FacesSecond: len(faces2),
		MatchCount:  facematch.CountMatches(results1),
		Details:     string(details),
		LatencyMs:   time.Since(start).Milliseconds(),
		CreatedAt:   time.Now().UTC(),
	}
	if err := uc.repo.SaveLog(ctx, log); err != nil {
		wrapped := logging.NewOperationError("usecase.save_log", requestID, err)
		opLogger.Error("failed to persist comparison log", zap.Error(wrapped))
		return nil, wrapped
	}

	serialized, err := json.Marshal(cachedComparison{
		RequestID:   log.RequestID,
		UserID:      log.UserID,
		FirstImage:  log.FirstImage,
		SecondImage: log.SecondImage,
		Method:      log.Method,
		Strategy:    log.Strategy,
		Threshold:   log.Threshold,
		FacesFirst:  log.FacesFirst,
		FacesSecond: log.FacesSecond,
		MatchCount:  log.MatchCount,
		Details:     log.Details,
		LatencyMs:   log.LatencyMs,
		CreatedAt:   log.CreatedAt,
	})
	if err != nil {
		opLogger.Error("failed to serialize comparison result", zap.Error(err))
		return nil, err
	}

	if err := uc.withRedisRetry(ctx, requestID, "cache.set.result", func() error {
		return uc.cache.Set(ctx, key, string(serialized), resultTTL)
	}); err != nil {
		opLogger.Error("failed to cache comparison result", zap.Error(err))
		return nil, err
	}

	opLogger.Info("comparison complete",
		zap.Int("faces_first", len(faces1)),
		zap.Int("faces_second", len(faces2)),
		zap.Int("matches", log.MatchCount),
		zap.Int64("latency_ms", log.LatencyMs))

	return &ComparisonReport{
		RequestID: requestID,
		Method:    string(req.Method),
		Strategy:  string(req.Strategy),
		Threshold: req.Threshold,
		Images: [2]ImageReport{
			{Name: req.First.Name, Faces: results1, Annotated: annotated1, ContentType: render.ContentType(format1)},
			{Name: req.Second.Name, Faces: results2, Annotated: annotated2, ContentType: render.ContentType(format2)},
		},
	}, nil
}

func (uc *ComparisonUseCase) withDefaults(req ComparisonRequest) ComparisonRequest {
	if req.Method == "" {
		req.Method = uc.defaults.Method
	}
	if req.Threshold <= 0 {
		req.Threshold = uc.defaults.Threshold
	}
	if req.Strategy == "" {
		req.Strategy = uc.defaults.Strategy
	}
	return req
}

func annotate(img image.Image, format string, locations []facematch.Location) ([]byte, error) {
	boxes := make([]render.Box, len(locations))
	for i, loc := range locations {
		boxes[i] = render.Box{Location: loc, Color: render.Green}
	}
	var buf bytes.Buffer
	if err := render.Encode(&buf, render.Annotate(img, boxes), format); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// GetResult retrieves a cached comparison outcome or loads it from persistence.
func (uc *ComparisonUseCase) GetResult(ctx context.Context, userID, requestID string) (*repository.ComparisonLog, error) {
	if cached, err := uc.withRedisGet(ctx, requestID, "cache.get.result", cacheKey(requestID)); err == nil && cached != processingMarker {
		var payload cachedComparison
		if err := json.Unmarshal([]byte(cached), &payload); err != nil {
			logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to decode cached result", zap.Error(err))
		} else if payload.UserID == userID {
			return &repository.ComparisonLog{
				RequestID:   requestID,
				UserID:      payload.UserID,
				FirstImage:  payload.FirstImage,
				SecondImage: payload.SecondImage,
				Method:      payload.Method,
				Strategy:    payload.Strategy,
				Threshold:   payload.Threshold,
				FacesFirst:  payload.FacesFirst,
				FacesSecond: payload.FacesSecond,
				MatchCount:  payload.MatchCount,
				Details:     payload.Details,
				LatencyMs:   payload.LatencyMs,
				CreatedAt:   payload.CreatedAt,
			}, nil
		}
	} else if err != nil && !errors.Is(err, redis.Nil) {
		logging.WithOperation(uc.logger, "usecase.get_result", requestID).Warn("failed to read cache", zap.Error(err))
	}

	return uc.repo.FindByRequestIDAndUser(ctx, requestID, userID)
}

func (uc *ComparisonUseCase) withRedisRetry(ctx context.Context, requestID, operation string, fn func() error) error {
	if uc.retryAttempts <= 1 {
		err := fn()
		return logging.NewOperationError(operation, requestID, err)
	}

	backoff := uc.initialBackoff
	opLogger := logging.WithOperation(uc.logger, operation, requestID)
	var err error
	for attempt := 0; attempt < uc.retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return logging.NewOperationError(operation, requestID, ctx.Err())
			case <-time.After(backoff):
			}
			if next := backoff * 2; next <= uc.maxBackoff {
				backoff = next
			}
		}

		err = fn()
		if err == nil {
			if attempt > 0 {
				opLogger.Info("redis operation succeeded after retry", zap.Int("attempt", attempt+1))
			}
			return nil
		}

		if !logging.IsTransient(err) || attempt == uc.retryAttempts-1 {
			if !errors.Is(err, redis.Nil) {
				opLogger.Error("redis operation failed", zap.Error(err), zap.Int("attempt", attempt+1))
			}
			return logging.NewOperationError(operation, requestID, err)
		}

		opLogger.Warn("transient redis error", zap.Error(err), zap.Int("attempt", attempt+1))
	}
	return logging.NewOperationError(operation, requestID, err)
}

func (uc *ComparisonUseCase) withRedisGet(ctx context.Context, requestID, operation, key string) (string, error) {
	var result string
	err := uc.withRedisRetry(ctx, requestID, operation, func() error {
		value, err := uc.cache.Get(ctx, key)
		if err != nil {
			return err
		}
		result = value
		return nil
	})
	if err != nil {
		return "", err
	}
	return result, nil
}
