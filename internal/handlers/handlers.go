package handlers

import (
	"context"
	"embed"
	"encoding/base64"
	"encoding/json"
	"errors"
	"html/template"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/example/face-compare/internal/auth"
	"github.com/example/face-compare/internal/detector"
	"github.com/example/face-compare/internal/facematch"
	"github.com/example/face-compare/internal/repository"
	"github.com/example/face-compare/internal/usecase"
)

// MaxUploadSize is the default per-file upload limit.
const MaxUploadSize = 10 << 20

const noResultsMessage = "No results to display. Please upload two valid images for comparison."

//go:embed templates/*.html
var templateFS embed.FS

var pages = template.Must(template.ParseFS(templateFS, "templates/*.html"))

var allowedContentTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/gif":  true,
}

// Comparer is the use case surface the handlers depend on.
type Comparer interface {
	CompareImages(ctx context.Context, userID string, req usecase.ComparisonRequest) (*usecase.ComparisonReport, error)
	GetResult(ctx context.Context, userID, requestID string) (*repository.ComparisonLog, error)
	GetMetricsSummary(ctx context.Context) (*usecase.MetricsSummary, error)
}

// Server holds the collaborators of the HTTP handlers.
type Server struct {
	uc        Comparer
	logger    *zap.Logger
	maxUpload int64
}

// NewServer builds a Server. A non-positive maxUpload means MaxUploadSize.
func NewServer(uc Comparer, logger *zap.Logger, maxUpload int64) *Server {
	if maxUpload <= 0 {
		maxUpload = MaxUploadSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{uc: uc, logger: logger.Named("handlers"), maxUpload: maxUpload}
}

// Register wires the HTML pages, the health check and the JSON API.
func (s *Server) Register(router *gin.Engine, authMiddleware gin.HandlerFunc) {
	router.SetHTMLTemplate(pages)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/", s.index)
	router.POST("/", s.comparePage)
	router.GET("/upload", func(c *gin.Context) {
		c.Redirect(http.StatusFound, "/")
	})

	api := router.Group("/api", authMiddleware)
	api.POST("/compare", s.compareAPI)
	api.GET("/result/:id", s.result)
	api.GET("/metrics", s.metrics)
}

func (s *Server) index(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", nil)
}

type imageView struct {
	Name    string
	DataURI template.URL
	Faces   []facematch.MatchResult
}

type resultsPage struct {
	Message string
	Images  []imageView
}

func (s *Server) comparePage(c *gin.Context) {
	files, err := s.multipartFiles(c)
	if err != nil || len(files) != 2 {
		c.HTML(http.StatusOK, "index.html", nil)
		return
	}

	method, err := detector.ParseMethod(c.DefaultPostForm("method", string(detector.MethodHOG)))
	if err != nil {
		c.HTML(http.StatusOK, "results.html", resultsPage{Message: noResultsMessage})
		return
	}

	req, err := s.buildRequest(files, method)
	if err != nil {
		c.HTML(http.StatusOK, "results.html", resultsPage{Message: noResultsMessage})
		return
	}

	report, err := s.uc.CompareImages(c.Request.Context(), auth.UserIDOrAnonymous(c.Request.Context()), req)
	if err != nil {
		s.logger.Warn("comparison failed", zap.Error(err))
		c.HTML(http.StatusOK, "results.html", resultsPage{Message: noResultsMessage})
		return
	}

	page := resultsPage{}
	for _, img := range report.Images {
		page.Images = append(page.Images, imageView{
			Name:    img.Name,
			DataURI: dataURI(img.ContentType, img.Annotated),
			Faces:   img.Faces,
		})
	}
	c.HTML(http.StatusOK, "results.html", page)
}

func (s *Server) compareAPI(c *gin.Context) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user"})
		return
	}

	files, err := s.multipartFiles(c)
	if err != nil {
		if isTooLarge(err) {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "upload too large"})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": "multipart form with two files is required"})
		return
	}

	for _, fh := range files {
		if fh.Size > s.maxUpload {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{
				"error":     "file exceeds maximum upload size",
				"file":      fh.Filename,
				"max_bytes": s.maxUpload,
			})
			return
		}
	}
	if len(files) != 2 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "exactly two files are required"})
		return
	}

	method, err := detector.ParseMethod(c.PostForm("method"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := s.buildRequest(files, method)
	if err != nil {
		if errors.Is(err, usecase.ErrUnsupportedImage) {
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if raw := c.PostForm("strategy"); raw != "" {
		strategy, err := facematch.ParseStrategy(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		req.Strategy = strategy
	}
	if raw := c.PostForm("threshold"); raw != "" {
		threshold, err := strconv.ParseFloat(raw, 64)
		if err != nil || threshold <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "threshold must be a positive number"})
			return
		}
		req.Threshold = threshold
	}

	report, err := s.uc.CompareImages(c.Request.Context(), userID, req)
	if err != nil {
		switch {
		case errors.Is(err, usecase.ErrUnsupportedImage):
			c.JSON(http.StatusUnsupportedMediaType, gin.H{"error": err.Error()})
		case errors.Is(err, facematch.ErrInvalidInput):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		default:
			s.logger.Error("comparison failed", zap.Error(err), zap.String("user_id", userID))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "comparison failed"})
		}
		return
	}

	images := make([]gin.H, 0, len(report.Images))
	for _, img := range report.Images {
		images = append(images, gin.H{
			"name":      img.Name,
			"faces":     img.Faces,
			"annotated": string(dataURI(img.ContentType, img.Annotated)),
		})
	}
	c.JSON(http.StatusOK, gin.H{
		"request_id":  report.RequestID,
		"method":      report.Method,
		"strategy":    report.Strategy,
		"threshold":   report.Threshold,
		"match_count": facematch.CountMatches(report.Images[0].Faces),
		"images":      images,
	})
}

func (s *Server) result(c *gin.Context) {
	userID, ok := auth.GetUserID(c.Request.Context())
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing user"})
		return
	}
	requestID := c.Param("id")
	if requestID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id is required"})
		return
	}

	log, err := s.uc.GetResult(c.Request.Context(), userID, requestID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "result not found"})
			return
		}
		s.logger.Error("failed to load result", zap.Error(err), zap.String("request_id", requestID))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load result"})
		return
	}

	var details interface{} = log.Details
	if json.Valid([]byte(log.Details)) {
		details = json.RawMessage(log.Details)
	}
	c.JSON(http.StatusOK, gin.H{
		"request_id":   log.RequestID,
		"user_id":      log.UserID,
		"first_image":  log.FirstImage,
		"second_image": log.SecondImage,
		"method":       log.Method,
		"strategy":     log.Strategy,
		"threshold":    log.Threshold,
		"faces_first":  log.FacesFirst,
		"faces_second": log.FacesSecond,
		"match_count":  log.MatchCount,
		"details":      details,
		"latency_ms":   log.LatencyMs,
		"created_at":   log.CreatedAt,
	})
}

func (s *Server) metrics(c *gin.Context) {
	summary, err := s.uc.GetMetricsSummary(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to aggregate metrics", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to aggregate metrics"})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// multipartFiles parses the form under a body limit sized for two uploads.
func (s *Server) multipartFiles(c *gin.Context) ([]*multipart.FileHeader, error) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 2*s.maxUpload+1<<20)
	form, err := c.MultipartForm()
	if err != nil {
		return nil, err
	}
	return form.File["file"], nil
}

func (s *Server) buildRequest(files []*multipart.FileHeader, method detector.Method) (usecase.ComparisonRequest, error) {
	first, err := readUpload(files[0])
	if err != nil {
		return usecase.ComparisonRequest{}, err
	}
	second, err := readUpload(files[1])
	if err != nil {
		return usecase.ComparisonRequest{}, err
	}
	return usecase.ComparisonRequest{First: first, Second: second, Method: method}, nil
}

func readUpload(fh *multipart.FileHeader) (usecase.Upload, error) {
	if !usecase.AllowedFile(fh.Filename) {
		return usecase.Upload{}, errors.Join(usecase.ErrUnsupportedImage, errors.New(fh.Filename+": extension not allowed"))
	}
	src, err := fh.Open()
	if err != nil {
		return usecase.Upload{}, err
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return usecase.Upload{}, err
	}
	if !allowedContentTypes[contentType(fh, data)] {
		return usecase.Upload{}, errors.Join(usecase.ErrUnsupportedImage, errors.New(fh.Filename+": content type not allowed"))
	}
	return usecase.Upload{Name: fh.Filename, Data: data}, nil
}

// contentType prefers the declared part type and sniffs when it is missing or generic.
func contentType(fh *multipart.FileHeader, data []byte) string {
	declared := fh.Header.Get("Content-Type")
	if declared == "" || declared == "application/octet-stream" {
		declared = http.DetectContentType(data)
	}
	mediaType, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return ""
	}
	return mediaType
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr) || strings.Contains(err.Error(), "request body too large")
}

func dataURI(contentType string, data []byte) template.URL {
	return template.URL("data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data))
}
