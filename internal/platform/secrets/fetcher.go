package secrets

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/googleapis/gax-go/v2"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultEnvironment  = "local"
	defaultFallbackPath = ".secrets.local"
)

var secretManagerClientFactory = func(ctx context.Context, opts ...option.ClientOption) (*secretmanager.Client, error) {
	return secretmanager.NewClient(ctx, opts...)
}

type secretManagerClient interface {
	AccessSecretVersion(ctx context.Context, req *secretmanagerpb.AccessSecretVersionRequest, opts ...gax.CallOption) (*secretmanagerpb.AccessSecretVersionResponse, error)
	Close() error
}

// Fetcher resolves secret:// references using Google Secret Manager with local
// caching and a file-based fallback for development environments.
type Fetcher struct {
	client     secretManagerClient
	ownsClient bool

	logger *zap.Logger

	env           string
	defaultProjID string
	projectMap    map[string]string
	versionPins   map[string]string

	fallbackPath string
	fallbackOnce sync.Once
	fallbackVals map[string]string
	fallbackErr  error

	mu    sync.RWMutex
	cache map[string]cacheEntry
}

type cacheEntry struct {
	value     string
	version   string
	fetchedAt time.Time
	source    string
}

type fetcherConfig struct {
	logger       *zap.Logger
	env          string
	defaultProj  string
	projectMap   map[string]string
	versionPins  map[string]string
	fallbackPath string
	client       secretManagerClient
	clientOpts   []option.ClientOption
}

// Option customises Fetcher construction.
type Option func(*fetcherConfig)

// WithLogger attaches a structured logger.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *fetcherConfig) {
		cfg.logger = logger
	}
}

// WithEnvironment sets the deployment environment used for project selection.
func WithEnvironment(env string) Option {
	return func(cfg *fetcherConfig) {
		cfg.env = strings.ToLower(strings.TrimSpace(env))
	}
}

// WithDefaultProject sets the project used when the environment map has no entry.
func WithDefaultProject(projectID string) Option {
	return func(cfg *fetcherConfig) {
		cfg.defaultProj = strings.TrimSpace(projectID)
	}
}

// WithProjectMap maps environments to Secret Manager project IDs.
func WithProjectMap(m map[string]string) Option {
	return func(cfg *fetcherConfig) {
		cfg.projectMap = copyStringMap(m)
	}
}

// WithFallbackFile overrides the local fallback file path.
func WithFallbackFile(path string) Option {
	return func(cfg *fetcherConfig) {
		cfg.fallbackPath = strings.TrimSpace(path)
	}
}

// WithVersionPins pins specific secret references to fixed versions.
func WithVersionPins(pins map[string]string) Option {
	return func(cfg *fetcherConfig) {
		cfg.versionPins = copyStringMap(pins)
	}
}

// WithSecretManagerClient injects a pre-built client, primarily for tests.
func WithSecretManagerClient(client secretManagerClient) Option {
	return func(cfg *fetcherConfig) {
		cfg.client = client
	}
}

// WithClientOptions appends Google API client options used when dialing Secret Manager.
func WithClientOptions(opts ...option.ClientOption) Option {
	return func(cfg *fetcherConfig) {
		cfg.clientOpts = append(cfg.clientOpts, opts...)
	}
}

// NewFetcher constructs a Fetcher ready to resolve secret references.
func NewFetcher(ctx context.Context, opts ...Option) (*Fetcher, error) {
	cfg := fetcherConfig{
		env:          defaultEnvironment,
		fallbackPath: defaultFallbackPath,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	fetcher := &Fetcher{
		logger:        logger,
		env:           cfg.env,
		defaultProjID: cfg.defaultProj,
		projectMap:    cfg.projectMap,
		versionPins:   cfg.versionPins,
		fallbackPath:  cfg.fallbackPath,
		cache:         make(map[string]cacheEntry),
	}

	if cfg.client != nil {
		fetcher.client = cfg.client
		return fetcher, nil
	}

	client, err := secretManagerClientFactory(ctx, cfg.clientOpts...)
	if err != nil {
		// Local environments may run entirely off the fallback file.
		logger.Warn("secrets: secret manager client unavailable, relying on fallback file",
			zap.String("environment", cfg.env),
			zap.Error(err),
		)
		return fetcher, nil
	}
	fetcher.client = client
	fetcher.ownsClient = true
	return fetcher, nil
}

// Close releases the Secret Manager client when owned by the fetcher.
func (f *Fetcher) Close() error {
	if f == nil || f.client == nil || !f.ownsClient {
		return nil
	}
	return f.client.Close()
}

// Resolve fetches the secret value for a secret://name[?version=N] reference.
func (f *Fetcher) Resolve(ctx context.Context, ref string) (string, error) {
	parsed, err := parseReference(ref)
	if err != nil {
		return "", err
	}

	version := f.selectVersion(parsed)
	key := cacheKey(parsed.canonical, version)

	if value, ok := f.lookupCache(key); ok {
		return value, nil
	}

	if f.client != nil {
		value, resolvedVersion, err := f.fetchRemote(ctx, f.projectID(parsed), parsed.name, version)
		if err == nil {
			f.storeCache(key, value, resolvedVersion, "secret-manager")
			return value, nil
		}
		if !isFallbackError(err) {
			return "", fmt.Errorf("secrets: access %s: %w", maskReference(parsed.canonical), err)
		}
		f.logger.Warn("secrets: remote lookup failed, trying fallback file",
			zap.String("ref", maskReference(parsed.canonical)),
			zap.Error(err),
		)
	}

	if value, ok := f.lookupFallback(parsed, version); ok {
		f.storeCache(key, value, version, "fallback-file")
		return value, nil
	}

	return "", fmt.Errorf("secrets: secret %s not found", maskReference(parsed.canonical))
}

// Invalidate drops any cached value for the reference so the next Resolve refetches.
func (f *Fetcher) Invalidate(ref string) {
	parsed, err := parseReference(ref)
	if err != nil {
		return
	}
	version := f.selectVersion(parsed)

	f.mu.Lock()
	delete(f.cache, cacheKey(parsed.canonical, version))
	f.mu.Unlock()
}

func (f *Fetcher) lookupCache(key string) (string, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, ok := f.cache[key]
	if !ok {
		return "", false
	}
	return entry.value, true
}

func (f *Fetcher) storeCache(key, value, version, source string) {
	f.mu.Lock()
	f.cache[key] = cacheEntry{
		value:     value,
		version:   version,
		fetchedAt: time.Now(),
		source:    source,
	}
	f.mu.Unlock()
}

func (f *Fetcher) fetchRemote(ctx context.Context, projectID, secretName, version string) (string, string, error) {
	if projectID == "" {
		return "", "", errors.New("secrets: project id is not configured")
	}
	name := fmt.Sprintf("projects/%s/secrets/%s/versions/%s", projectID, secretName, version)
	resp, err := f.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{Name: name})
	if err != nil {
		return "", "", err
	}
	if resp.GetPayload() == nil {
		return "", "", errors.New("secrets: empty payload")
	}
	return string(resp.GetPayload().GetData()), version, nil
}

func (f *Fetcher) projectID(ref parsedReference) string {
	if ref.project != "" {
		return ref.project
	}
	if f.projectMap != nil {
		if projectID, ok := f.projectMap[f.env]; ok && projectID != "" {
			return projectID
		}
	}
	return f.defaultProjID
}

func (f *Fetcher) selectVersion(ref parsedReference) string {
	if ref.version != "" {
		return ref.version
	}
	if f.versionPins != nil {
		if pinned, ok := f.versionPins[ref.canonical]; ok && pinned != "" {
			return pinned
		}
	}
	return "latest"
}

func (f *Fetcher) lookupFallback(ref parsedReference, version string) (string, bool) {
	f.fallbackOnce.Do(f.loadFallback)
	if f.fallbackErr != nil || f.fallbackVals == nil {
		return "", false
	}
	if value, ok := f.fallbackVals[cacheKey(ref.canonical, version)]; ok {
		return value, true
	}
	value, ok := f.fallbackVals[ref.canonical]
	return value, ok
}

func (f *Fetcher) loadFallback() {
	if f.fallbackPath == "" {
		return
	}
	file, err := os.Open(f.fallbackPath)
	if errors.Is(err, os.ErrNotExist) {
		return
	}
	if err != nil {
		f.fallbackErr = err
		f.logger.Warn("secrets: unable to read fallback file",
			zap.String("path", f.fallbackPath),
			zap.Error(err),
		)
		return
	}
	defer file.Close()

	values := make(map[string]string)
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := canonicalFallbackKey(parts[0])
		if key == "" {
			continue
		}
		values[key] = strings.TrimSpace(parts[1])
	}
	if err := scanner.Err(); err != nil {
		f.fallbackErr = err
		return
	}
	f.fallbackVals = values
}

type parsedReference struct {
	canonical string
	name      string
	project   string
	version   string
}

func parseReference(ref string) (parsedReference, error) {
	trimmed := strings.TrimSpace(ref)
	if strings.HasPrefix(trimmed, "sm://") {
		trimmed = "secret://" + strings.TrimPrefix(trimmed, "sm://")
	}
	if !strings.HasPrefix(trimmed, "secret://") {
		return parsedReference{}, fmt.Errorf("secrets: unsupported reference %q", maskReference(trimmed))
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return parsedReference{}, fmt.Errorf("secrets: invalid reference: %w", err)
	}

	name := strings.Trim(parsed.Path, "/")
	project := ""
	if parsed.Host != "" {
		// secret://project/name pins the project explicitly; secret://name has
		// the name in the host position.
		if name == "" {
			name = parsed.Host
		} else {
			project = parsed.Host
		}
	}
	if name == "" {
		return parsedReference{}, errors.New("secrets: reference is missing a secret name")
	}

	canonical := "secret://" + name
	if project != "" {
		canonical = "secret://" + project + "/" + name
	}

	return parsedReference{
		canonical: canonical,
		name:      name,
		project:   project,
		version:   strings.TrimSpace(parsed.Query().Get("version")),
	}, nil
}

func cacheKey(canonical, version string) string {
	return canonical + "@" + version
}

func copyStringMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	dst := make(map[string]string, len(src))
	for key, value := range src {
		dst[key] = value
	}
	return dst
}

func maskReference(ref string) string {
	sum := sha256.Sum256([]byte(ref))
	return "ref-" + hex.EncodeToString(sum[:6])
}

func isFallbackError(err error) bool {
	switch status.Code(err) {
	case codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.Unavailable:
		return true
	default:
		return false
	}
}

func canonicalFallbackKey(value string) string {
	key := strings.TrimSpace(value)
	if key == "" {
		return ""
	}
	if strings.HasPrefix(key, "sm://") {
		key = "secret://" + strings.TrimPrefix(key, "sm://")
	}
	if !strings.HasPrefix(key, "secret://") {
		key = "secret://" + key
	}
	return key
}
