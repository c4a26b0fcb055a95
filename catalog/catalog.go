package catalog

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path"
	"strings"
	"sync/atomic"

	"storefront-svc/models"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	IDSeparator   = "__"
	previewPrefix = "/static/previews/"
	defaultPrice  = 1
)

var (
	ErrMissingCategoryID = errors.New("category has no id")
	ErrDuplicateLoopID   = errors.New("duplicate loop id")
	ErrInvalidFileName   = errors.New("invalid loop file name")
	ErrNotReloadable     = errors.New("catalog has no source file")
)

type document struct {
	Categories []categoryDocument `json:"categories" yaml:"categories"`
}

type categoryDocument struct {
	ID          string   `json:"id" yaml:"id"`
	Title       string   `json:"title" yaml:"title"`
	Description string   `json:"description" yaml:"description"`
	Folder      string   `json:"folder" yaml:"folder"`
	PriceEUR    *float64 `json:"price_eur" yaml:"price_eur"`
	Files       []string `json:"files" yaml:"files"`
}

// Snapshot is one fully built catalog. It is never mutated after Parse returns.
type Snapshot struct {
	categories []*models.Category
	byID       map[string]*models.Loop
	ids        []string
}

func Load(filePath, storageBaseURL string) (*Snapshot, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	snap, err := Parse(data, storageBaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", filePath, err)
	}
	return snap, nil
}

// Parse accepts the JSON catalog document, or the same structure written as YAML.
func Parse(data []byte, storageBaseURL string) (*Snapshot, error) {
	var doc document
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, errors.New("catalog document is empty")
	}
	if trimmed[0] == '{' {
		if err := json.Unmarshal(trimmed, &doc); err != nil {
			return nil, err
		}
	} else if err := yaml.Unmarshal(trimmed, &doc); err != nil {
		return nil, err
	}

	base := strings.TrimRight(storageBaseURL, "/")
	snap := &Snapshot{byID: make(map[string]*models.Loop)}

	for _, cd := range doc.Categories {
		if strings.TrimSpace(cd.ID) == "" {
			return nil, fmt.Errorf("%w (title %q)", ErrMissingCategoryID, cd.Title)
		}
		price := float64(defaultPrice)
		if cd.PriceEUR != nil {
			price = *cd.PriceEUR
		}

		category := &models.Category{
			ID:          cd.ID,
			Title:       cd.Title,
			Description: cd.Description,
			Folder:      cd.Folder,
			PriceEUR:    price,
			Loops:       make([]*models.Loop, 0, len(cd.Files)),
		}

		for _, file := range cd.Files {
			loop, err := newLoop(category, file, base)
			if err != nil {
				return nil, err
			}
			if _, exists := snap.byID[loop.ID]; exists {
				return nil, fmt.Errorf("%w: %s", ErrDuplicateLoopID, loop.ID)
			}
			category.Loops = append(category.Loops, loop)
			snap.byID[loop.ID] = loop
			snap.ids = append(snap.ids, loop.ID)
		}
		snap.categories = append(snap.categories, category)
	}

	return snap, nil
}

func newLoop(category *models.Category, file, baseURL string) (*models.Loop, error) {
	base := strings.TrimSuffix(file, path.Ext(file))
	// Ids travel comma-joined in checkout metadata.
	if base == "" || strings.Contains(base, ",") || strings.Contains(file, "/") {
		return nil, fmt.Errorf("%w: %q in category %s", ErrInvalidFileName, file, category.ID)
	}

	return &models.Loop{
		ID:         category.ID + IDSeparator + base,
		File:       file,
		Name:       prettyName(base),
		URL:        downloadURL(baseURL, category.Folder, file),
		Preview:    previewPrefix + base + ".mp3",
		PriceEUR:   category.PriceEUR,
		CategoryID: category.ID,
	}, nil
}

func prettyName(base string) string {
	name := strings.ReplaceAll(base, "_", " ")
	return strings.ReplaceAll(name, "  ", " ")
}

func downloadURL(baseURL, folder, file string) string {
	parts := []string{baseURL}
	if folder != "" {
		parts = append(parts, url.PathEscape(folder))
	}
	parts = append(parts, url.PathEscape(file))
	return strings.Join(parts, "/")
}

func (s *Snapshot) Lookup(id string) (*models.Loop, bool) {
	loop, ok := s.byID[id]
	return loop, ok
}

// AllIDs returns every loop id in catalog order. The slice is a copy.
func (s *Snapshot) AllIDs() []string {
	ids := make([]string, len(s.ids))
	copy(ids, s.ids)
	return ids
}

func (s *Snapshot) Categories() []*models.Category {
	return s.categories
}

func (s *Snapshot) Len() int {
	return len(s.ids)
}

// Index is the process-wide catalog. Readers never lock; Reload publishes a
// complete new Snapshot with a single pointer swap.
type Index struct {
	filePath       string
	storageBaseURL string
	current        atomic.Pointer[Snapshot]
	logger         *zap.Logger
}

func NewIndex(filePath, storageBaseURL string, logger *zap.Logger) (*Index, error) {
	snap, err := Load(filePath, storageBaseURL)
	if err != nil {
		return nil, err
	}
	idx := &Index{filePath: filePath, storageBaseURL: storageBaseURL, logger: logger}
	idx.current.Store(snap)
	logger.Info("Catalog loaded",
		zap.String("path", filePath),
		zap.Int("categories", len(snap.categories)),
		zap.Int("loops", snap.Len()),
	)
	return idx, nil
}

// NewStaticIndex wraps an already built snapshot. Reload is not available.
func NewStaticIndex(snap *Snapshot, logger *zap.Logger) *Index {
	idx := &Index{logger: logger}
	idx.current.Store(snap)
	return idx
}

func (i *Index) Snapshot() *Snapshot {
	return i.current.Load()
}

func (i *Index) Publish(snap *Snapshot) {
	i.current.Store(snap)
}

// Reload re-reads the catalog file. On failure the previous snapshot stays live.
func (i *Index) Reload() error {
	if i.filePath == "" {
		return ErrNotReloadable
	}
	snap, err := Load(i.filePath, i.storageBaseURL)
	if err != nil {
		i.logger.Error("Catalog reload failed, keeping previous catalog", zap.Error(err))
		return err
	}
	i.Publish(snap)
	i.logger.Info("Catalog reloaded", zap.Int("loops", snap.Len()))
	return nil
}

func (i *Index) Lookup(id string) (*models.Loop, bool) {
	return i.Snapshot().Lookup(id)
}

func (i *Index) AllIDs() []string {
	return i.Snapshot().AllIDs()
}

func (i *Index) Categories() []*models.Category {
	return i.Snapshot().Categories()
}

func (i *Index) Len() int {
	return i.Snapshot().Len()
}

// Resolve maps ids to loops in request order, dropping unknown ids. All lookups
// are served from the same snapshot.
func (i *Index) Resolve(ids []string) []*models.Loop {
	snap := i.Snapshot()
	loops := make([]*models.Loop, 0, len(ids))
	for _, id := range ids {
		if loop, ok := snap.Lookup(id); ok {
			loops = append(loops, loop)
		}
	}
	return loops
}
