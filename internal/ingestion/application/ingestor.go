package application

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strings"
	"time"

	accountspg "coldchain-collect/internal/accounts/infrastructure/postgres"
	"coldchain-collect/internal/blobstore"
	collect "coldchain-collect/internal/collect/domain"
	collectpg "coldchain-collect/internal/collect/infrastructure/postgres"
	devices "coldchain-collect/internal/devices/domain"
	devicepg "coldchain-collect/internal/devices/infrastructure/postgres"
	"coldchain-collect/internal/eventing"
	eventingpg "coldchain-collect/internal/eventing/infrastructure/postgres"
	"coldchain-collect/internal/ingestion"
	"coldchain-collect/internal/observability/metrics"
	"coldchain-collect/internal/serversync"
)

// EndCommand closes a batch of collect requests against one uploaded
// temperature-log file.
type EndCommand struct {
	OperatorID     string
	RequestIDs     []string
	FileName       string
	FileData       []byte
	EndingLocation *collect.Location
}

// ItemResult reports the outcome for one request id of the batch.
type ItemResult struct {
	RequestID string `json:"request_id"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
}

// EndResult summarizes one completed ingest run.
type EndResult struct {
	DeviceMAC string       `json:"device_mac"`
	FileKey   string       `json:"file_key"`
	RowCount  int          `json:"row_count"`
	EndedAt   time.Time    `json:"ended_at"`
	Items     []ItemResult `json:"items"`
	Succeeded int          `json:"succeeded"`
	Failed    int          `json:"failed"`
}

// Ingestor runs the end-of-collection batch: store the raw file, parse
// it, persist device and readings, finalize every request of the batch
// and queue the outbound notification, all inside one transaction. On a
// fatal error the transaction rolls back and the stored file is removed.
type Ingestor struct {
	db     *sql.DB
	blobs  blobstore.Store
	loc    *time.Location
	logger *log.Logger
}

// IngestorOption customizes the ingestor.
type IngestorOption func(*Ingestor)

// WithTimezone sets the reference timezone used to interpret file
// timestamps without offsets.
func WithTimezone(loc *time.Location) IngestorOption {
	return func(ing *Ingestor) {
		if loc != nil {
			ing.loc = loc
		}
	}
}

// NewIngestor constructs an ingestor.
func NewIngestor(db *sql.DB, blobs blobstore.Store, logger *log.Logger, opts ...IngestorOption) (*Ingestor, error) {
	if db == nil {
		return nil, errors.New("ingestion: nil db")
	}
	if blobs == nil {
		return nil, errors.New("ingestion: nil blob store")
	}
	if logger == nil {
		logger = log.Default()
	}
	loc, err := time.LoadLocation(ingestion.DefaultTimezone)
	if err != nil {
		return nil, fmt.Errorf("ingestion: load timezone: %w", err)
	}
	ing := &Ingestor{db: db, blobs: blobs, loc: loc, logger: logger}
	for _, opt := range opts {
		opt(ing)
	}
	return ing, nil
}

// EndCollections executes the batch end. Unknown or unendable request
// ids fail individually; a parse or storage failure fails the whole
// batch and leaves no trace.
func (ing *Ingestor) EndCollections(ctx context.Context, cmd EndCommand) (*EndResult, error) {
	started := time.Now()
	result, err := ing.endCollections(ctx, cmd)
	if err != nil {
		metrics.ObserveIngest(metrics.ResultError, time.Since(started))
		return nil, err
	}
	metrics.ObserveIngest(metrics.ResultSuccess, time.Since(started))
	metrics.AddIngestRows(result.RowCount)
	return result, nil
}

func (ing *Ingestor) endCollections(ctx context.Context, cmd EndCommand) (*EndResult, error) {
	if len(cmd.RequestIDs) == 0 {
		return nil, errors.New("ingestion: no request ids")
	}
	if cmd.OperatorID == "" {
		return nil, errors.New("ingestion: missing operator id")
	}
	if len(cmd.FileData) == 0 {
		return nil, errors.New("ingestion: empty file")
	}

	fileKey := blobKey(cmd.FileName)
	if err := ing.blobs.Put(ctx, fileKey, cmd.FileData); err != nil {
		return nil, fmt.Errorf("ingestion: store file: %w", err)
	}

	mac, readings, err := ing.parseFile(cmd.FileData)
	if err != nil {
		ing.discard(ctx, fileKey)
		return nil, err
	}

	tx, err := ing.db.BeginTx(ctx, nil)
	if err != nil {
		ing.discard(ctx, fileKey)
		return nil, err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
			ing.discard(ctx, fileKey)
		}
	}()

	requests := collectpg.NewCollectRequestRepository(tx)
	devs := devicepg.NewDeviceRepository(tx)
	logs := devicepg.NewTemperatureLogRepository(tx)
	users := accountspg.NewUserRepository(tx)
	referrers := accountspg.NewReferrerRepository(tx)
	publisher, err := eventing.NewPublisher(eventingpg.NewOutboxStore(tx))
	if err != nil {
		return nil, err
	}

	device, err := devs.GetOrCreateByMAC(ctx, newID(), mac)
	if err != nil {
		return nil, fmt.Errorf("ingestion: device upsert: %w", err)
	}
	for i := range readings {
		readings[i].ID = newID()
		readings[i].DeviceID = device.ID
	}
	if err := logs.InsertLogs(ctx, readings); err != nil {
		return nil, fmt.Errorf("ingestion: insert readings: %w", err)
	}

	// One clock reading for the whole batch.
	now := time.Now().UTC()

	result := &EndResult{
		DeviceMAC: device.MAC,
		FileKey:   fileKey,
		RowCount:  len(readings),
		EndedAt:   now,
		Items:     make([]ItemResult, 0, len(cmd.RequestIDs)),
	}
	var payloads []serversync.RequestPayload

	for _, id := range cmd.RequestIDs {
		req, err := requests.Get(ctx, id)
		if err != nil {
			if errors.Is(err, collect.ErrNotFound) {
				result.fail(id, "not found")
				metrics.IncLifecycle("end", metrics.ResultError)
				continue
			}
			return nil, err
		}
		if req.UserID != cmd.OperatorID {
			result.fail(id, collect.ErrNotAssigned.Error())
			metrics.IncLifecycle("end", metrics.ResultError)
			continue
		}
		if err := collect.CanEnd(req); err != nil {
			result.fail(id, err.Error())
			metrics.IncLifecycle("end", metrics.ResultError)
			continue
		}

		ended := now
		req.Status = collect.StatusReceived
		req.DeviceID = device.ID
		req.EndedAt = &ended
		if cmd.EndingLocation != nil {
			loc := *cmd.EndingLocation
			req.Extra.EndingLocation = &loc
		}
		// Read the window back from the store so readings the device
		// uploaded in earlier files count too.
		window, err := logs.QueryRange(ctx, device.ID, *req.StartedAt, ended)
		if err != nil {
			return nil, fmt.Errorf("ingestion: window for %s: %w", id, err)
		}
		req.Extra.TemperatureLogs = snapshotLogs(window)

		if err := requests.MarkEnded(ctx, req); err != nil {
			return nil, fmt.Errorf("ingestion: end request %s: %w", id, err)
		}
		result.ok(id)
		metrics.IncLifecycle("end", metrics.ResultSuccess)

		payload, perr := ing.buildPayload(ctx, users, referrers, req, device.MAC)
		if perr != nil {
			ing.logger.Printf("collect end: payload for %s skipped: %v", id, perr)
			continue
		}
		payloads = append(payloads, payload)
	}

	if len(payloads) > 0 {
		update := serversync.Update{Action: serversync.ActionEnded, CollectRequests: payloads}
		if err := publisher.Publish(ctx, update); err != nil {
			return nil, fmt.Errorf("ingestion: queue notification: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	committed = true

	ing.logger.Printf("collect end: device=%s rows=%d succeeded=%d failed=%d", device.MAC, result.RowCount, result.Succeeded, result.Failed)
	return result, nil
}

// parseFile turns the raw upload into a device identifier and normalized
// readings. All rows must parse; one bad row fails the file.
func (ing *Ingestor) parseFile(data []byte) (string, []devices.TemperatureLog, error) {
	sheet, err := ingestion.ParseSheet(data)
	if err != nil {
		metrics.IncParseError("unreadable")
		return "", nil, fmt.Errorf("collect end: parse error: %w", err)
	}
	defer sheet.Close()

	mac, err := ingestion.ExtractMAC(sheet.HeaderRow())
	if err != nil {
		metrics.IncParseError("mac_not_found")
		return "", nil, err
	}
	if canonical, err := devices.NormalizeMAC(mac); err == nil {
		mac = canonical
	}

	var readings []devices.TemperatureLog
	for {
		row, err := sheet.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			metrics.IncParseError(parseReason(err))
			return "", nil, fmt.Errorf("collect end: parse error: %w", err)
		}
		ts, err := ingestion.NormalizeTimestamp(row.Timestamp, row.Number, ing.loc)
		if err != nil {
			metrics.IncParseError(parseReason(err))
			return "", nil, err
		}
		value, err := ingestion.NormalizeValue(row.Value, row.Number)
		if err != nil {
			metrics.IncParseError(parseReason(err))
			return "", nil, err
		}
		readings = append(readings, devices.TemperatureLog{
			Value:     value,
			Timestamp: ts,
		})
	}
	if len(readings) == 0 {
		metrics.IncParseError("empty")
		return "", nil, &ingestion.MalformedFileError{Row: 0, Reason: "no readings"}
	}
	return mac, readings, nil
}

func (ing *Ingestor) buildPayload(ctx context.Context, users *accountspg.UserRepository, referrers *accountspg.ReferrerRepository, req *collect.CollectRequest, mac string) (serversync.RequestPayload, error) {
	identity := serversync.PayloadIdentity{
		RequestServerID: req.ServerID,
		DeviceMAC:       mac,
	}
	if user, err := users.Get(ctx, req.UserID); err == nil {
		identity.OperatorServerID = user.ServerID
	}
	if req.ReferrerID != "" {
		if ref, err := referrers.Get(ctx, req.ReferrerID); err == nil {
			identity.ReferrerServerID = ref.ServerID
		}
	}
	return serversync.BuildRequestPayload(req, identity)
}

// discard removes the stored upload after a failed run.
func (ing *Ingestor) discard(ctx context.Context, key string) {
	if err := ing.blobs.Delete(ctx, key); err != nil {
		ing.logger.Printf("collect end: discard %s: %v", key, err)
	}
}

func (r *EndResult) ok(id string) {
	r.Items = append(r.Items, ItemResult{RequestID: id, OK: true})
	r.Succeeded++
}

func (r *EndResult) fail(id, reason string) {
	r.Items = append(r.Items, ItemResult{RequestID: id, Error: reason})
	r.Failed++
}

// snapshotLogs freezes a queried window of readings into the request's
// extra information.
func snapshotLogs(window []devices.TemperatureLog) []collect.LogSnapshot {
	snaps := make([]collect.LogSnapshot, 0, len(window))
	for _, reading := range window {
		snaps = append(snaps, collect.LogSnapshot{
			Value:     reading.Value,
			Timestamp: reading.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	return snaps
}

func parseReason(err error) string {
	if ingestion.IsMalformed(err) {
		return "malformed"
	}
	return "unreadable"
}

func blobKey(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == "/" || base == "" {
		base = "upload"
	}
	return fmt.Sprintf("temperature-logs/%s-%s-%s", time.Now().UTC().Format("20060102T150405"), randomSuffix(), base)
}

func randomSuffix() string {
	var buf [4]byte
	_, _ = rand.Read(buf[:])
	return hex.EncodeToString(buf[:])
}

func newID() string {
	var buf [16]byte
	_, _ = rand.Read(buf[:])
	buf[6] = (buf[6] & 0x0f) | 0x40
	buf[8] = (buf[8] & 0x3f) | 0x80
	return hex.EncodeToString(buf[:])
}
