package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/calsync/internal/model"
)

const (
	// maxResultsPerPage は1ページあたりの最大イベント取得数。
	maxResultsPerPage = 250
)

// eventTime はカレンダーAPIの日時フィールド。
// 終日イベントはDateのみ、時刻付きイベントはDateTimeを持つ。
type eventTime struct {
	DateTime string `json:"dateTime,omitempty"`
	Date     string `json:"date,omitempty"`
	TimeZone string `json:"timeZone,omitempty"`
}

// extendedProps はイベントの拡張プロパティ。
type extendedProps struct {
	Private map[string]string `json:"private,omitempty"`
}

// eventResource はカレンダーAPIのイベントリソース。
type eventResource struct {
	ID                 string         `json:"id,omitempty"`
	Status             string         `json:"status,omitempty"`
	Summary            string         `json:"summary,omitempty"`
	Description        string         `json:"description,omitempty"`
	ColorID            string         `json:"colorId,omitempty"`
	Updated            string         `json:"updated,omitempty"`
	Start              *eventTime     `json:"start,omitempty"`
	End                *eventTime     `json:"end,omitempty"`
	ExtendedProperties *extendedProps `json:"extendedProperties,omitempty"`
}

// eventListResponse はイベント一覧APIのレスポンス。
type eventListResponse struct {
	Items         []eventResource `json:"items"`
	NextPageToken string          `json:"nextPageToken"`
}

// Client はGoogleカレンダーAPIのRESTクライアント。
// レートリミッタでAPI呼び出し頻度を制御する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string // テスト用にエンドポイントを差し替え可能
	calendarID string
	limiter    *rate.Limiter
}

var _ Service = (*Client)(nil)

// NewClient はClient の新しいインスタンスを生成する。
// rps はAPI呼び出しの秒間上限。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, calendarID string, rps float64) *Client {
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		baseURL:    baseURL,
		calendarID: calendarID,
		limiter:    rate.NewLimiter(rate.Limit(rps), burst),
	}
}

// ListEvents は指定期間内のイベントを全件取得する。
// ページングを内部で辿り、キャンセル済みイベントは除外する。
func (c *Client) ListEvents(ctx context.Context, from, to time.Time) ([]model.ExternalEvent, error) {
	var events []model.ExternalEvent
	pageToken := ""

	for {
		q := url.Values{}
		q.Set("timeMin", from.UTC().Format(time.RFC3339))
		q.Set("timeMax", to.UTC().Format(time.RFC3339))
		q.Set("singleEvents", "true")
		q.Set("maxResults", strconv.Itoa(maxResultsPerPage))
		if pageToken != "" {
			q.Set("pageToken", pageToken)
		}

		reqURL := fmt.Sprintf("%s/calendars/%s/events?%s", c.baseURL, url.PathEscape(c.calendarID), q.Encode())

		var list eventListResponse
		if err := c.do(ctx, "events.list", http.MethodGet, reqURL, nil, &list); err != nil {
			return nil, err
		}

		for _, item := range list.Items {
			if item.Status == "cancelled" {
				continue
			}
			events = append(events, toExternalEvent(item))
		}

		if list.NextPageToken == "" {
			break
		}
		pageToken = list.NextPageToken
	}

	return events, nil
}

// CreateEvent はイベントを新規作成する。
func (c *Client) CreateEvent(ctx context.Context, body model.EventBody) (*model.ExternalEvent, error) {
	reqURL := fmt.Sprintf("%s/calendars/%s/events", c.baseURL, url.PathEscape(c.calendarID))

	var created eventResource
	if err := c.do(ctx, "events.insert", http.MethodPost, reqURL, toEventResource(body), &created); err != nil {
		return nil, err
	}

	ev := toExternalEvent(created)
	return &ev, nil
}

// UpdateEvent は既存イベントを更新する。
func (c *Client) UpdateEvent(ctx context.Context, eventID string, body model.EventBody) (*model.ExternalEvent, error) {
	reqURL := fmt.Sprintf("%s/calendars/%s/events/%s", c.baseURL, url.PathEscape(c.calendarID), url.PathEscape(eventID))

	var updated eventResource
	if err := c.do(ctx, "events.patch", http.MethodPatch, reqURL, toEventResource(body), &updated); err != nil {
		return nil, err
	}

	ev := toExternalEvent(updated)
	return &ev, nil
}

// DeleteEvent はイベントを削除する。
// 既に存在しない場合はClassNotFoundのエラーを返す（呼び出し元が成功扱いを判断する）。
func (c *Client) DeleteEvent(ctx context.Context, eventID string) error {
	reqURL := fmt.Sprintf("%s/calendars/%s/events/%s", c.baseURL, url.PathEscape(c.calendarID), url.PathEscape(eventID))
	return c.do(ctx, "events.delete", http.MethodDelete, reqURL, nil, nil)
}

// watchRequestBody はチャンネル登録APIのリクエストボディ。
type watchRequestBody struct {
	ID         string `json:"id"`
	Type       string `json:"type"`
	Address    string `json:"address"`
	Token      string `json:"token,omitempty"`
	Expiration int64  `json:"expiration,omitempty"` // epochミリ秒
}

// watchResponseBody はチャンネル登録APIのレスポンスボディ。
type watchResponseBody struct {
	ResourceID string `json:"resourceId"`
	Expiration string `json:"expiration"` // epochミリ秒の文字列
}

// Watch はカレンダー変更通知のwebhookチャンネルを登録する。
func (c *Client) Watch(ctx context.Context, req WatchRequest) (*WatchResponse, error) {
	reqURL := fmt.Sprintf("%s/calendars/%s/events/watch", c.baseURL, url.PathEscape(c.calendarID))

	body := watchRequestBody{
		ID:      req.ChannelID,
		Type:    "web_hook",
		Address: req.Address,
		Token:   req.Token,
	}
	if !req.Expiration.IsZero() {
		body.Expiration = req.Expiration.UnixMilli()
	}

	var result watchResponseBody
	if err := c.do(ctx, "events.watch", http.MethodPost, reqURL, body, &result); err != nil {
		return nil, err
	}

	resp := &WatchResponse{ResourceID: result.ResourceID, Expiration: req.Expiration}
	if ms, err := strconv.ParseInt(result.Expiration, 10, 64); err == nil {
		resp.Expiration = time.UnixMilli(ms).UTC()
	}
	return resp, nil
}

// StopChannel はwebhookチャンネルを停止する。
func (c *Client) StopChannel(ctx context.Context, channelID, resourceID string) error {
	reqURL := fmt.Sprintf("%s/channels/stop", c.baseURL)
	body := map[string]string{
		"id":         channelID,
		"resourceId": resourceID,
	}
	return c.do(ctx, "channels.stop", http.MethodPost, reqURL, body, nil)
}

// do はレート制限を適用してHTTPリクエストを実行し、レスポンスをデコードする。
// エラー時はステータスコードに応じて分類したAPICallErrorを返す。
func (c *Client) do(ctx context.Context, op, method, reqURL string, reqBody, respBody any) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &APICallError{Op: op, Class: ClassTransient, Err: err}
	}

	var bodyReader io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return &APICallError{Op: op, Class: ClassPermanent, Err: fmt.Errorf("リクエストボディのエンコードに失敗しました: %w", err)}
		}
		bodyReader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, bodyReader)
	if err != nil {
		return &APICallError{Op: op, Class: ClassPermanent, Err: fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)}
	}
	if reqBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("カレンダーAPIの呼び出しに失敗しました",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		return &APICallError{Op: op, Class: ClassTransient, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		class := ClassifyStatus(resp.StatusCode)
		c.logger.Error("カレンダーAPIがエラーステータスを返しました",
			slog.String("op", op),
			slog.Int("http_status", resp.StatusCode),
			slog.String("class", class.String()),
		)
		return &APICallError{Op: op, Status: resp.StatusCode, Class: class}
	}

	if respBody == nil {
		// ボディを捨ててコネクションを再利用可能にする
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	if err := json.NewDecoder(resp.Body).Decode(respBody); err != nil {
		return &APICallError{Op: op, Status: resp.StatusCode, Class: ClassPermanent,
			Err: fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)}
	}
	return nil
}

// toExternalEvent はAPIのイベントリソースをドメインモデルに変換する。
// 終日イベントや日時欠落は HasStart/HasEnd=false として表現する。
func toExternalEvent(res eventResource) model.ExternalEvent {
	ev := model.ExternalEvent{
		ID:          res.ID,
		Summary:     res.Summary,
		Description: res.Description,
		ColorID:     res.ColorID,
	}
	if res.ExtendedProperties != nil {
		ev.PrivateProps = res.ExtendedProperties.Private
	}
	if t, ok := parseEventTime(res.Start); ok {
		ev.Start = t
		ev.HasStart = true
	}
	if t, ok := parseEventTime(res.End); ok {
		ev.End = t
		ev.HasEnd = true
	}
	if updated, err := time.Parse(time.RFC3339, res.Updated); err == nil {
		ev.Updated = updated.UTC()
	}
	return ev
}

// parseEventTime は日時フィールドをパースする。時刻付きのDateTimeのみ有効とする。
func parseEventTime(et *eventTime) (time.Time, bool) {
	if et == nil || et.DateTime == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, et.DateTime)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

// toEventResource はドメインのイベントボディをAPIのリソース表現に変換する。
func toEventResource(body model.EventBody) eventResource {
	res := eventResource{
		Summary:     body.Summary,
		Description: body.Description,
		ColorID:     body.ColorID,
		Start:       &eventTime{DateTime: body.Start.UTC().Format(time.RFC3339), TimeZone: "UTC"},
		End:         &eventTime{DateTime: body.End.UTC().Format(time.RFC3339), TimeZone: "UTC"},
	}
	if len(body.PrivateProps) > 0 {
		res.ExtendedProperties = &extendedProps{Private: body.PrivateProps}
	}
	return res
}
