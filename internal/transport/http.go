package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"HibiscusSOS/internal/models"
	"HibiscusSOS/pkg/errors"
	"HibiscusSOS/pkg/geo"
)

// HTTPBackend Backend 的HTTP绑定，面向本服务自身暴露的API
type HTTPBackend struct {
	baseURL string
	session Session
	client  *http.Client
}

// NewHTTPBackend 创建HTTP后端，baseURL 形如 http://host:port/api
func NewHTTPBackend(baseURL string, session Session, client *http.Client) *HTTPBackend {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPBackend{
		baseURL: strings.TrimRight(baseURL, "/"),
		session: session,
		client:  client,
	}
}

// envelope 服务端统一响应结构，Data 延迟解码
type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
	Fields  []string        `json:"fields,omitempty"`
}

func (b *HTTPBackend) do(ctx context.Context, method, path string, query url.Values, body interface{}, out interface{}) error {
	u := b.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "encode request body")
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reader)
	if err != nil {
		return errors.Wrap(err, "build request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-User-ID", b.session.UserID)
	if b.session.Token != "" {
		req.Header.Set("Authorization", "Bearer "+b.session.Token)
	}

	resp, err := b.client.Do(req)
	if err != nil {
		e := errors.Wrap(err, "request failed")
		e.Code = errors.CodeConnectionFailed
		return e
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		if resp.StatusCode >= 500 {
			return errors.WithCodef(errors.CodeConnectionFailed, "server error: %d", resp.StatusCode)
		}
		return errors.Wrap(err, "decode response")
	}

	if resp.StatusCode != http.StatusOK || env.Code != 0 {
		return remoteError(resp.StatusCode, env)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return errors.Wrap(err, "decode response data")
		}
	}
	return nil
}

// remoteError 将服务端错误码还原为本地错误
func remoteError(status int, env envelope) error {
	code := env.Code
	if code == 0 {
		switch {
		case status == http.StatusUnauthorized:
			code = errors.CodeAuthRequired
		case status == http.StatusNotFound:
			code = errors.CodeNotFound
		case status == http.StatusConflict:
			code = errors.CodeConflict
		case status >= 500:
			code = errors.CodeConnectionFailed
		default:
			code = errors.CodeValidation
		}
	}
	msg := env.Message
	if msg == "" {
		msg = fmt.Sprintf("server returned %d", status)
	}
	err := errors.WithCode(code, msg)
	for _, f := range env.Fields {
		err = err.WithField(f, "")
	}
	return err
}

func (b *HTTPBackend) CreateAlert(ctx context.Context, req CreateAlertRequest) (*models.Alert, error) {
	var alert models.Alert
	if err := b.do(ctx, http.MethodPost, "/alert", nil, req, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}

func (b *HTTPBackend) NearbyCandidates(ctx context.Context, origin geo.Point, radiusMeters float64) ([]models.Candidate, error) {
	q := url.Values{}
	q.Set("lat", fmt.Sprintf("%f", origin.Lat))
	q.Set("lng", fmt.Sprintf("%f", origin.Lng))
	q.Set("radius", fmt.Sprintf("%f", radiusMeters))

	var candidates []models.Candidate
	if err := b.do(ctx, http.MethodGet, "/alert/nearby", q, nil, &candidates); err != nil {
		return nil, err
	}
	return candidates, nil
}

type respondRequest struct {
	AlertID  string                 `json:"alert_id,omitempty"`
	UserID   string                 `json:"user_id"`
	Decision models.ResponderStatus `json:"decision"`
}

func (b *HTTPBackend) SubmitResponse(ctx context.Context, alertID, userID string, decision models.ResponderStatus) (*models.ResponderUpdate, error) {
	var update models.ResponderUpdate
	body := respondRequest{UserID: userID, Decision: decision}
	if err := b.do(ctx, http.MethodPost, "/alert/"+alertID+"/respond", nil, body, &update); err != nil {
		return nil, err
	}
	return &update, nil
}

// SubmitResponseFallback 走扁平的历史路由，与主路径语义一致
func (b *HTTPBackend) SubmitResponseFallback(ctx context.Context, alertID, userID string, decision models.ResponderStatus) (*models.ResponderUpdate, error) {
	var update models.ResponderUpdate
	body := respondRequest{AlertID: alertID, UserID: userID, Decision: decision}
	if err := b.do(ctx, http.MethodPost, "/alert/respond", nil, body, &update); err != nil {
		return nil, err
	}
	return &update, nil
}

type radiusRequest struct {
	RadiusMeters float64 `json:"radius_meters"`
}

func (b *HTTPBackend) UpdateRadius(ctx context.Context, alertID string, radiusMeters float64) (*models.Alert, error) {
	var alert models.Alert
	if err := b.do(ctx, http.MethodPut, "/alert/"+alertID+"/radius", nil, radiusRequest{RadiusMeters: radiusMeters}, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}

type closeRequest struct {
	Status models.AlertStatus `json:"status"`
}

func (b *HTTPBackend) CloseAlert(ctx context.Context, alertID string, status models.AlertStatus) error {
	return b.do(ctx, http.MethodPut, "/alert/"+alertID+"/close", nil, closeRequest{Status: status}, nil)
}

func (b *HTTPBackend) PollAlerts(ctx context.Context, userID string, since time.Time) ([]models.Alert, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339Nano))

	var alerts []models.Alert
	if err := b.do(ctx, http.MethodGet, "/poll/alerts", q, nil, &alerts); err != nil {
		return nil, err
	}
	return alerts, nil
}

func (b *HTTPBackend) PollResponderUpdates(ctx context.Context, userID string, since time.Time) ([]models.ResponderUpdate, error) {
	q := url.Values{}
	q.Set("since", since.UTC().Format(time.RFC3339Nano))

	var updates []models.ResponderUpdate
	if err := b.do(ctx, http.MethodGet, "/poll/responses", q, nil, &updates); err != nil {
		return nil, err
	}
	return updates, nil
}
