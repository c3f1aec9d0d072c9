package directory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/t77yq/groupsummary/internal/evolution"
	"github.com/t77yq/groupsummary/internal/model"
	"github.com/t77yq/groupsummary/internal/storage"
)

// GroupFetcher lists groups from the messaging API
type GroupFetcher interface {
	FetchAllGroups(ctx context.Context) ([]model.Group, error)
}

// cacheDocument is the on-disk cache layout
type cacheDocument struct {
	Timestamp string          `json:"timestamp"`
	Groups    json.RawMessage `json:"groups"`
}

// Directory serves the group list from a local cache, refreshing it from the API on demand
type Directory struct {
	fetcher   GroupFetcher
	store     storage.GroupConfigStore
	cachePath string
	logger    *zap.Logger

	mu     sync.Mutex
	groups []model.GroupView
}

// New creates a new group directory
func New(fetcher GroupFetcher, store storage.GroupConfigStore, cachePath string, logger *zap.Logger) *Directory {
	return &Directory{
		fetcher:   fetcher,
		store:     store,
		cachePath: cachePath,
		logger:    logger.Named("directory"),
	}
}

// Fetch returns every group merged with its summary configuration.
// The cache is used unless forceRefresh is set or it is absent; a forced
// refresh that is rate limited falls back to the cache when there is one.
func (d *Directory) Fetch(ctx context.Context, forceRefresh bool) ([]model.GroupView, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	rows, err := d.store.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load group config: %w", err)
	}

	groups, err := d.groupList(ctx, forceRefresh)
	if err != nil {
		return nil, err
	}

	d.groups = Merge(groups, rows)
	return append([]model.GroupView(nil), d.groups...), nil
}

func (d *Directory) groupList(ctx context.Context, forceRefresh bool) ([]model.Group, error) {
	if !forceRefresh {
		if groups, ok := d.loadCache(); ok {
			d.logger.Debug("Using cached groups", zap.Int("count", len(groups)))
			return groups, nil
		}
		d.logger.Info("Group cache not found, fetching from API")
		return d.refresh(ctx)
	}

	groups, err := d.refresh(ctx)
	if err == nil {
		return groups, nil
	}
	if !errors.Is(err, evolution.ErrRateLimited) {
		return nil, err
	}

	d.logger.Warn("Rate limited, falling back to cache", zap.Error(err))
	if cached, ok := d.loadCache(); ok {
		return cached, nil
	}
	return nil, err
}

func (d *Directory) refresh(ctx context.Context) ([]model.Group, error) {
	groups, err := d.fetcher.FetchAllGroups(ctx)
	if err != nil {
		return nil, err
	}
	if err := d.saveCache(groups); err != nil {
		d.logger.Error("Failed to save group cache", zap.Error(err))
	}
	return groups, nil
}

// loadCache reads the cache; a file that cannot be decoded is removed
func (d *Directory) loadCache() ([]model.Group, bool) {
	data, err := os.ReadFile(d.cachePath)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			d.logger.Error("Failed to read group cache", zap.Error(err))
		}
		return nil, false
	}

	var doc cacheDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		d.dropCorruptCache(err)
		return nil, false
	}
	if len(doc.Groups) == 0 || string(doc.Groups) == "null" {
		return nil, false
	}
	var groups []model.Group
	if err := json.Unmarshal(doc.Groups, &groups); err != nil {
		d.dropCorruptCache(err)
		return nil, false
	}
	return groups, true
}

func (d *Directory) dropCorruptCache(cause error) {
	d.logger.Warn("Group cache is corrupt, removing it",
		zap.String("path", d.cachePath),
		zap.Error(cause))
	if err := os.Remove(d.cachePath); err != nil && !errors.Is(err, os.ErrNotExist) {
		d.logger.Error("Failed to remove group cache", zap.Error(err))
	}
}

func (d *Directory) saveCache(groups []model.Group) error {
	if groups == nil {
		groups = []model.Group{}
	}
	raw, err := json.Marshal(groups)
	if err != nil {
		return fmt.Errorf("failed to marshal groups: %w", err)
	}
	data, err := json.Marshal(cacheDocument{
		Timestamp: time.Now().Format(time.RFC3339),
		Groups:    raw,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal cache: %w", err)
	}
	if err := os.WriteFile(d.cachePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write cache: %w", err)
	}
	return nil
}

// FindGroup returns the group with id, loading the list first when nothing is loaded yet
func (d *Directory) FindGroup(ctx context.Context, id string) (*model.GroupView, error) {
	d.mu.Lock()
	loaded := d.groups != nil
	d.mu.Unlock()

	if !loaded {
		if _, err := d.Fetch(ctx, false); err != nil {
			return nil, err
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	for i := range d.groups {
		if d.groups[i].ID == id {
			g := d.groups[i]
			return &g, nil
		}
	}
	return nil, nil
}

// FilterByOwner returns the loaded groups owned by owner
func (d *Directory) FilterByOwner(owner string) []model.GroupView {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []model.GroupView
	for _, g := range d.groups {
		if g.Owner == owner {
			out = append(out, g)
		}
	}
	return out
}

// Merge pairs every group with its configuration row, defaulting groups that have none
func Merge(groups []model.Group, rows []model.GroupSummaryConfig) []model.GroupView {
	byID := make(map[string]model.GroupSummaryConfig, len(rows))
	for _, row := range rows {
		byID[row.GroupID] = row
	}

	views := make([]model.GroupView, 0, len(groups))
	for _, g := range groups {
		cfg, ok := byID[g.ID]
		if !ok {
			cfg = model.DefaultGroupSummaryConfig(g.ID)
		}
		views = append(views, model.GroupView{Group: g, Config: cfg})
	}
	return views
}
