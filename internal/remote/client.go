package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"clinicdesk/internal/events"
	"clinicdesk/internal/store"
	"clinicdesk/pkg/domain"
)

// DefaultTimeout bounds each remote request when none is configured.
const DefaultTimeout = 10 * time.Second

// ErrRemote reports a non-2xx response from the remote server.
var ErrRemote = errors.New("remote request failed")

// Client talks to a remote Server.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

// WithClientLogger sets the logger.
func WithClientLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient builds a client for baseURL. A non-positive timeout uses
// DefaultTimeout.
func NewClient(baseURL string, timeout time.Duration, opts ...ClientOption) (*Client, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, errors.New("remote url is required")
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *Client) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode %s body: %w", path, err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read %s response: %w", path, err)
	}
	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("remote request")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		msg := strings.TrimSpace(string(data))
		if json.Unmarshal(data, &eb) == nil && eb.Error != "" {
			msg = eb.Error
		}
		return data, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Message: msg}
	}
	return data, nil
}

// StatusError describes a rejected request. It matches ErrRemote.
type StatusError struct {
	Method  string
	Path    string
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: status %d: %s", e.Method, e.Path, e.Code, e.Message)
}

// Is reports ErrRemote.
func (e *StatusError) Is(target error) bool { return target == ErrRemote }

// fetchArray returns the JSON array served at path.
func (c *Client) fetchArray(ctx context.Context, path string) (json.RawMessage, int, error) {
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, 0, err
	}
	var items []json.RawMessage
	if err := json.Unmarshal(data, &items); err != nil {
		return nil, 0, fmt.Errorf("decode %s: %w", path, err)
	}
	if items == nil {
		return json.RawMessage("[]"), 0, nil
	}
	return data, len(items), nil
}

// Patients lists the remote patients.
func (c *Client) Patients(ctx context.Context) ([]domain.Patient, error) {
	var out []domain.Patient
	data, err := c.do(ctx, http.MethodGet, PathPatients, nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode patients: %w", err)
	}
	return out, nil
}

// Prescriptions lists the remote prescriptions.
func (c *Client) Prescriptions(ctx context.Context) ([]domain.Prescription, error) {
	var out []domain.Prescription
	data, err := c.do(ctx, http.MethodGet, PathPrescriptions, nil)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode prescriptions: %w", err)
	}
	return out, nil
}

// CreatePatient posts p and returns the stored copy.
func (c *Client) CreatePatient(ctx context.Context, p domain.Patient) (domain.Patient, error) {
	var out domain.Patient
	data, err := c.do(ctx, http.MethodPost, PathPatients, p)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode patient: %w", err)
	}
	return out, nil
}

// CreatePrescription posts rx and returns the stored copy.
func (c *Client) CreatePrescription(ctx context.Context, rx domain.Prescription) (domain.Prescription, error) {
	var out domain.Prescription
	data, err := c.do(ctx, http.MethodPost, PathPrescriptions, rx)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, fmt.Errorf("decode prescription: %w", err)
	}
	return out, nil
}

// PullResult counts the entities imported by Pull.
type PullResult struct {
	Patients      int
	Prescriptions int
}

// Pull replaces the local patients and prescriptions with the remote
// snapshot. Nothing is merged: local-only entries in those two collections
// are lost. When bus is non-nil a remote collectionChanged event is published
// per replaced collection.
func (c *Client) Pull(ctx context.Context, st *store.Store, bus *events.Bus) (PullResult, error) {
	var res PullResult
	patients, n, err := c.fetchArray(ctx, PathPatients)
	if err != nil {
		return res, err
	}
	res.Patients = n
	rxs, n, err := c.fetchArray(ctx, PathPrescriptions)
	if err != nil {
		return res, err
	}
	res.Prescriptions = n

	snapshot := map[domain.Collection]json.RawMessage{
		domain.CollectionPatients:      patients,
		domain.CollectionPrescriptions: rxs,
	}
	if err := st.Import(ctx, snapshot); err != nil {
		return res, err
	}
	c.log.Info().Int("patients", res.Patients).Int("prescriptions", res.Prescriptions).Msg("pulled remote snapshot")
	if bus != nil {
		now := time.Now().UTC()
		for _, col := range []domain.Collection{domain.CollectionPatients, domain.CollectionPrescriptions} {
			bus.Publish(ctx, events.Event{
				Topic:      domain.TopicCollectionChanged,
				Collection: col,
				Origin:     c.baseURL,
				Remote:     true,
				At:         now,
			})
		}
	}
	return res, nil
}

// PushResult reports what Push sent.
type PushResult struct {
	Patients      int
	Prescriptions int
	Failed        []string
}

// Push sends local prescriptions the remote does not know yet. A patient
// referenced by a pushed prescription is created remotely first when
// missing. Individual rejections are collected in Failed and do not stop
// the remaining pushes.
func (c *Client) Push(ctx context.Context, st *store.Store) (PushResult, error) {
	var res PushResult
	remotePatients, err := c.Patients(ctx)
	if err != nil {
		return res, err
	}
	remoteRxs, err := c.Prescriptions(ctx)
	if err != nil {
		return res, err
	}
	known := make(map[string]bool, len(remoteRxs))
	for _, rx := range remoteRxs {
		known[rx.ID] = true
	}
	knownPatients := make(map[string]bool, len(remotePatients))
	for _, p := range remotePatients {
		knownPatients[p.ID] = true
	}

	local, err := st.Prescriptions().Read(ctx)
	if err != nil {
		return res, err
	}
	for _, rx := range local {
		if known[rx.ID] {
			continue
		}
		if !knownPatients[rx.PatientID] {
			p, ok, err := st.Patients().Find(ctx, rx.PatientID)
			if err != nil {
				return res, err
			}
			if ok {
				if _, err := c.CreatePatient(ctx, p); err != nil && !isConflict(err) {
					c.log.Warn().Err(err).Str("patient_id", p.ID).Msg("push patient")
					res.Failed = append(res.Failed, rx.ID)
					continue
				}
				knownPatients[p.ID] = true
				res.Patients++
			}
		}
		if _, err := c.CreatePrescription(ctx, rx); err != nil {
			if isConflict(err) {
				continue
			}
			c.log.Warn().Err(err).Str("prescription_id", rx.ID).Msg("push prescription")
			res.Failed = append(res.Failed, rx.ID)
			continue
		}
		res.Prescriptions++
	}
	c.log.Info().Int("patients", res.Patients).Int("prescriptions", res.Prescriptions).Int("failed", len(res.Failed)).Msg("pushed prescriptions")
	return res, nil
}

func isConflict(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == http.StatusConflict
}
