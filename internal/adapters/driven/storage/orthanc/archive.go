package orthanc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/custodia-labs/dixelkit/internal/adapters/driven/cache"
	"github.com/custodia-labs/dixelkit/internal/adapters/driven/httpclient"
	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
	"github.com/custodia-labs/dixelkit/internal/core/transfer"
	"github.com/custodia-labs/dixelkit/internal/logger"
)

// Ensure Archive implements the interfaces.
var (
	_ driven.Store            = (*Archive)(nil)
	_ driven.ExistenceChecker = (*Archive)(nil)
)

// Default configuration values.
const (
	DefaultHost = "localhost"
	DefaultPort = 8042
)

// Config holds configuration for an Orthanc archive.
type Config struct {
	// URL overrides Host and Port, e.g. "http://orthanc:8042".
	URL string

	Host     string
	Port     int
	User     string
	Password string

	// PeerName is how other archives address this one in /peers/{peer}/store.
	PeerName string

	CachePolicy domain.CachePolicy

	// CacheDir holds the persisted inventory file. Empty disables persistence.
	CacheDir string

	// Timeout is the request timeout (default: 30s).
	Timeout time.Duration

	// RateLimit is the sustained requests per second (0: unlimited).
	RateLimit float64

	// HTTPClient overrides the HTTP client (tests).
	HTTPClient *http.Client
}

// BaseURL returns the configured archive URL.
func (c Config) BaseURL() string {
	if c.URL != "" {
		return strings.TrimRight(c.URL, "/")
	}
	host := c.Host
	if host == "" {
		host = DefaultHost
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("http://%s:%d", host, port)
}

// Archive is a Store backed by an Orthanc server.
type Archive struct {
	client   *httpclient.Client
	peerName string
	cache    *cache.Cache
	matrix   *transfer.Matrix
	log      *logger.Logger
}

// NewArchive creates an Archive. Copies are dispatched through matrix.
func NewArchive(cfg Config, matrix *transfer.Matrix, log *logger.Logger) (*Archive, error) {
	if log == nil {
		log = logger.Discard()
	}
	base := cfg.BaseURL()

	cachePath := ""
	if cfg.CacheDir != "" {
		cachePath = filepath.Join(cfg.CacheDir, cache.FileName(cfg.User, cfg.Password, base))
	}
	c, err := cache.New(cachePath, cfg.CachePolicy, log)
	if err != nil {
		return nil, fmt.Errorf("orthanc %s: %w", base, err)
	}

	a := &Archive{
		client: httpclient.New(httpclient.Config{
			BaseURL:    base,
			User:       cfg.User,
			Password:   cfg.Password,
			Timeout:    cfg.Timeout,
			RateLimit:  cfg.RateLimit,
			HTTPClient: cfg.HTTPClient,
		}, log),
		peerName: cfg.PeerName,
		cache:    c,
		matrix:   matrix,
		log:      log,
	}
	c.Register(cache.KeyInventory, a.initializeInventory)
	return a, nil
}

// Kind returns domain.KindArchive.
func (a *Archive) Kind() domain.StoreKind {
	return domain.KindArchive
}

// URL returns the archive's base URL.
func (a *Archive) URL() string {
	return a.client.BaseURL()
}

// PeerName returns the name other archives use to push to this one.
func (a *Archive) PeerName() string {
	return a.peerName
}

// Cache exposes the store's cache.
func (a *Archive) Cache() *cache.Cache {
	return a.cache
}

// Statistics returns the server's counters from GET /statistics.
func (a *Archive) Statistics(ctx context.Context) (map[string]any, error) {
	var stats map[string]any
	if err := a.client.JSON(ctx, http.MethodGet, "/statistics", nil, nil, &stats); err != nil {
		return nil, fmt.Errorf("statistics: %w", err)
	}
	return stats, nil
}

// Put uploads an instance's DICOM bytes.
func (a *Archive) Put(ctx context.Context, d *domain.Dixel) (domain.Result, error) {
	if d.Level != domain.LevelInstance {
		return domain.Failed("put", d.ID, 0, "level not accepted"), domain.UnsupportedOperation(a.Kind(), "put", d.Level)
	}
	data := d.Data[domain.DataFile]
	if len(data) == 0 {
		return domain.Failed("put", d.ID, 0, "no payload"), fmt.Errorf("%w: dixel %s has no file data", domain.ErrInvalidInput, d)
	}

	status, body, err := a.client.Status(ctx, http.MethodPost, "/instances/", bytes.NewReader(data), "application/dicom")
	if err != nil {
		return domain.Failed("put", d.ID, 0, err.Error()), fmt.Errorf("put %s: %w", d, err)
	}
	if status != http.StatusOK {
		a.log.Warn("Could not add %s (status %d)", d, status)
		return domain.Failed("put", d.ID, status, strings.TrimSpace(string(body))), nil
	}

	a.log.Debug("Added %s successfully!", d)
	a.InvalidateInventory()
	return domain.Succeeded("put", d.ID, status), nil
}

// Get refreshes d's tags. Instance payloads are downloaded into Data.
func (a *Archive) Get(ctx context.Context, d *domain.Dixel, _ driven.GetOptions) (*domain.Dixel, error) {
	updated, err := a.Update(ctx, d)
	if err != nil {
		return nil, err
	}
	if updated.Level != domain.LevelInstance {
		return updated, nil
	}

	resp, err := a.client.Do(ctx, http.MethodGet, "/instances/"+updated.ID+"/file", nil, nil, "")
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", d, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &httpclient.APIError{
			Method:     http.MethodGet,
			URL:        a.URL() + "/instances/" + updated.ID + "/file",
			StatusCode: resp.StatusCode,
		}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", d, err)
	}
	updated.Data[domain.DataFile] = data
	return updated, nil
}

// Delete removes the resource at d's level.
func (a *Archive) Delete(ctx context.Context, d *domain.Dixel) (domain.Result, error) {
	status, body, err := a.client.Status(ctx, http.MethodDelete, resourcePath(d), nil, "")
	if err != nil {
		return domain.Failed("delete", d.ID, 0, err.Error()), fmt.Errorf("delete %s: %w", d, err)
	}
	if status != http.StatusOK {
		a.log.Warn("Could not delete %s (status %d)", d, status)
		return domain.Failed("delete", d.ID, status, strings.TrimSpace(string(body))), nil
	}

	a.log.Debug("Deleted %s", d)
	a.InvalidateInventory()
	return domain.Succeeded("delete", d.ID, status), nil
}

// Update returns a new dixel with the archive's simplified tags merged in.
// Series use shared-tags. Instances also gain transfer syntax and SOP class.
func (a *Archive) Update(ctx context.Context, d *domain.Dixel) (*domain.Dixel, error) {
	endpoint := "/tags"
	if d.Level == domain.LevelSeries {
		endpoint = "/shared-tags"
	}

	var raw map[string]any
	err := a.client.JSON(ctx, http.MethodGet, resourcePath(d)+endpoint, url.Values{"simplify": {""}}, nil, &raw)
	if err != nil {
		return nil, fmt.Errorf("update %s: %w", d, err)
	}

	out := d.Clone()
	for k, v := range simplify(raw) {
		out.Tags[k] = v
	}

	if d.Level == domain.LevelInstance {
		a.updateInstanceMeta(ctx, out)
	}
	return out, nil
}

// updateInstanceMeta fills transfer syntax and SOP class. Missing metadata
// is logged, not fatal: older archives do not record it.
func (a *Archive) updateInstanceMeta(ctx context.Context, d *domain.Dixel) {
	base := resourcePath(d) + "/metadata/"

	ts, err := a.client.Text(ctx, base+"TransferSyntaxUID")
	if err != nil {
		a.log.Debug("No TransferSyntaxUID for %s: %v", d, err)
	} else {
		d.Meta[domain.MetaTransferSyntaxUID] = ts
		d.Meta[domain.MetaTransferSyntax] = domain.TransferSyntaxName(ts)
	}

	uid, err := a.client.Text(ctx, base+"SopClassUid")
	if err != nil {
		a.log.Debug("No SopClassUid for %s: %v", d, err)
		return
	}
	d.Meta[domain.MetaSOPClassUID] = uid
	d.Meta[domain.MetaSOPClass] = domain.SOPClassName(uid)
}

// Exists reports whether the resource at d's level is present.
// Any non-200 answer counts as absent.
func (a *Archive) Exists(ctx context.Context, d *domain.Dixel) (bool, error) {
	if d.ID == "" || !d.Level.Valid() {
		return false, nil
	}
	status, _, err := a.client.Status(ctx, http.MethodGet, resourcePath(d), nil, "")
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", d, err)
	}
	return status == http.StatusOK, nil
}

// Copy replicates d into dest through the transfer matrix.
func (a *Archive) Copy(ctx context.Context, d *domain.Dixel, dest driven.Store) (domain.Result, error) {
	return a.matrix.Copy(ctx, a, d, dest)
}

// Inventory returns every instance id in the archive.
func (a *Archive) Inventory(ctx context.Context) (domain.Set, error) {
	return a.cache.Get(ctx, cache.KeyInventory)
}

// InvalidateInventory drops the cached inventory.
func (a *Archive) InvalidateInventory() {
	a.cache.Invalidate(cache.KeyInventory)
}

// DeleteInventory deletes every instance in the inventory.
func (a *Archive) DeleteInventory(ctx context.Context) (*domain.Report, error) {
	inv, err := a.Inventory(ctx)
	if err != nil {
		return nil, err
	}

	report := domain.NewReport("purge")
	for _, d := range inv.Sorted() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		report.Record(a.Delete(ctx, d))
	}
	a.log.Info("%s", report.Summary())
	return report, nil
}

func (a *Archive) initializeInventory(ctx context.Context) (domain.Set, error) {
	var ids []string
	if err := a.client.JSON(ctx, http.MethodGet, "/instances", nil, nil, &ids); err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	set := domain.NewSet()
	for _, id := range ids {
		set.Add(domain.NewDixel(id, domain.LevelInstance))
	}
	return set, nil
}

// PushToPeer copies d from an archive to the peer named by dst.
func PushToPeer(ctx context.Context, src driven.Store, d *domain.Dixel, dst driven.Store) (domain.Result, error) {
	a, ok := asArchive(src)
	if !ok {
		return domain.Failed("copy", d.ID, 0, "source is not an archive"), &domain.TransferError{From: src.Kind(), To: dst.Kind()}
	}
	p, ok := dst.(interface{ PeerName() string })
	if !ok || p.PeerName() == "" {
		return domain.Failed("copy", d.ID, 0, "no peer name"), fmt.Errorf("%w: destination %s has no peer name", domain.ErrInvalidInput, dst.Kind())
	}

	status, body, err := a.client.Status(ctx, http.MethodPost, "/peers/"+p.PeerName()+"/store", strings.NewReader(d.ID), "text/plain")
	if err != nil {
		return domain.Failed("copy", d.ID, 0, err.Error()), fmt.Errorf("push %s to %s: %w", d, p.PeerName(), err)
	}
	if status != http.StatusOK {
		a.log.Warn("Could not push %s to %s (status %d)", d, p.PeerName(), status)
		return domain.Failed("copy", d.ID, status, strings.TrimSpace(string(body))), nil
	}

	dst.InvalidateInventory()
	return domain.Succeeded("copy", d.ID, status), nil
}

func asArchive(s driven.Store) (*Archive, bool) {
	switch v := s.(type) {
	case *Archive:
		return v, true
	case *Proxy:
		return v.Archive, true
	default:
		return nil, false
	}
}

func resourcePath(d *domain.Dixel) string {
	return "/" + d.Level.Resource() + "/" + d.ID
}

// simplify flattens a simplified-tags document into strings.
// Nested values (sequences) are kept as JSON.
func simplify(raw map[string]any) map[string]string {
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case nil:
			out[k] = ""
		case string:
			out[k] = val
		default:
			data, err := json.Marshal(val)
			if err != nil {
				continue
			}
			out[k] = string(data)
		}
	}
	return out
}
