package media

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/domain"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/repository"
	"github.com/kursadbilgin/whatsapp-dispatch/internal/whatsapp"
	"go.uber.org/zap"
)

const (
	defaultDownloadTimeout = 30 * time.Second
	// WhatsApp rejects documents above 100 MB.
	maxMediaBytes = 100 << 20
)

// Resolver turns a stored media reference into an attachment for the gateway.
type Resolver struct {
	repo     repository.MediaRepository
	http     *resty.Client
	baseURL  string
	maxBytes int64
	logger   *zap.Logger
}

func NewResolver(repo repository.MediaRepository, client *resty.Client, baseURL string, logger *zap.Logger) *Resolver {
	if client == nil {
		client = resty.New()
	}
	if client.GetClient().Timeout == 0 {
		client.SetTimeout(defaultDownloadTimeout)
	}
	client.SetRetryCount(0)
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Resolver{
		repo:     repo,
		http:     client,
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		maxBytes: maxMediaBytes,
		logger:   logger,
	}
}

func (r *Resolver) Resolve(ctx context.Context, ref domain.MediaRef) (*whatsapp.MediaPayload, error) {
	if err := ref.Validate(); err != nil {
		return nil, err
	}

	record, err := r.lookup(ctx, ref)
	if err != nil {
		return nil, err
	}

	src := ref.Value
	if record != nil {
		src = record.Src
	}
	location, err := r.locate(src)
	if err != nil {
		return nil, err
	}

	body, contentType, err := r.download(ctx, location)
	if err != nil {
		return nil, err
	}

	payload := &whatsapp.MediaPayload{
		MimeType: mimeType(record, contentType, body),
		FileName: fileName(record, location),
		Data:     base64.StdEncoding.EncodeToString(body),
	}

	r.logger.Debug("media resolved",
		zap.String("ref", ref.String()),
		zap.String("mimetype", payload.MimeType),
		zap.Int("bytes", len(body)),
	)

	return payload, nil
}

// download streams the asset and stops reading once it passes maxBytes.
func (r *Resolver) download(ctx context.Context, location string) ([]byte, string, error) {
	response, err := r.http.R().
		SetContext(ctx).
		SetDoNotParseResponse(true).
		Get(location)
	if err != nil {
		return nil, "", fmt.Errorf("failed to download media %s: %w", location, err)
	}
	raw := response.RawBody()
	defer raw.Close()

	if !response.IsSuccess() {
		return nil, "", fmt.Errorf("failed to download media %s: status %d", location, response.StatusCode())
	}

	body, err := io.ReadAll(io.LimitReader(raw, r.maxBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read media %s: %w", location, err)
	}
	if len(body) == 0 {
		return nil, "", fmt.Errorf("media %s is empty", location)
	}
	if int64(len(body)) > r.maxBytes {
		return nil, "", fmt.Errorf("media %s exceeds %d bytes", location, r.maxBytes)
	}

	return body, response.Header().Get("Content-Type"), nil
}

func (r *Resolver) lookup(ctx context.Context, ref domain.MediaRef) (*domain.Media, error) {
	if ref.Kind == domain.MediaByID {
		record, err := r.repo.GetByID(ctx, ref.Value)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: media %s", domain.ErrNotFound, ref.Value)
		}
		return record, err
	}

	record, err := r.repo.GetBySrc(ctx, ref.Value)
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}
	if isAbsoluteURL(ref.Value) {
		return nil, nil
	}
	return nil, fmt.Errorf("%w: media %s", domain.ErrNotFound, ref.Value)
}

func (r *Resolver) locate(src string) (string, error) {
	src = strings.TrimSpace(src)
	if isAbsoluteURL(src) {
		return src, nil
	}
	if r.baseURL == "" {
		return "", fmt.Errorf("%w: media source %q is relative and no media base url is configured", domain.ErrValidation, src)
	}
	return r.baseURL + "/" + strings.TrimLeft(src, "/"), nil
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

func mimeType(record *domain.Media, contentType string, body []byte) string {
	if record != nil && strings.TrimSpace(record.MimeType) != "" {
		return record.MimeType
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil && mediaType != "application/octet-stream" {
		return mediaType
	}
	mediaType, _, _ := mime.ParseMediaType(http.DetectContentType(body))
	return mediaType
}

func fileName(record *domain.Media, location string) string {
	if record != nil && strings.TrimSpace(record.FileName) != "" {
		return record.FileName
	}
	u, err := url.Parse(location)
	if err != nil {
		return ""
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return ""
	}
	return name
}
