package ccow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/contextapp/internal/platform/transport"
)

const (
	ifaceContextManager = "ContextManager"
	ifaceContextData    = "ContextData"

	listSeparator = "|"
)

// ErrInvalidItem rejects item names or values the list encoding cannot carry.
var ErrInvalidItem = errors.New("ccow: item contains list separator")

// Getter performs the Contextor's URL-encoded GET requests.
type Getter interface {
	Get(ctx context.Context, rawURL string, values url.Values) (*transport.Response, error)
}

// HTTPClient talks to a Contextor through its URL-encoded web interface:
// every call is a GET of ?interface=...&method=... answered with a
// form-encoded body, or with exception=...&exceptionMessage=... on failure.
type HTTPClient struct {
	http           Getter
	contextorURL   string
	participantURL string
	logger         zerolog.Logger

	mu     sync.Mutex
	coupon Coupon
}

// NewHTTPClient creates a client for the Contextor at contextorURL.
// participantURL is where the Contextor delivers notifications.
func NewHTTPClient(g Getter, contextorURL, participantURL string, logger zerolog.Logger) *HTTPClient {
	return &HTTPClient{
		http:           g,
		contextorURL:   contextorURL,
		participantURL: participantURL,
		logger:         logger.With().Str("component", "contextor").Logger(),
	}
}

// ParticipantCoupon implements Client.
func (c *HTTPClient) ParticipantCoupon() Coupon {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.coupon
}

func (c *HTTPClient) setCoupon(coupon Coupon) {
	c.mu.Lock()
	c.coupon = coupon
	c.mu.Unlock()
}

// Join implements Client. An AlreadyJoined answer keeps the current coupon.
func (c *HTTPClient) Join(ctx context.Context, applicationName string, surveyable bool) error {
	out, err := c.invoke(ctx, ifaceContextManager, "JoinCommonContext", url.Values{
		"contextParticipant": {c.participantURL},
		"applicationName":    {applicationName},
		"survey":             {strconv.FormatBool(surveyable)},
		"wait":               {"true"},
	})
	if err != nil {
		return err
	}
	coupon := out.Get("participantCoupon")
	if coupon == "" {
		return &Exception{Kind: ExceptionGeneral, Message: "join answered without participantCoupon"}
	}
	c.setCoupon(Coupon(coupon))
	c.logger.Info().Str("application", applicationName).Str("coupon", coupon).Msg("joined common context")
	return nil
}

// Leave implements Client. The coupon is discarded even when the Contextor
// reports an error.
func (c *HTTPClient) Leave(ctx context.Context) error {
	coupon, err := c.requireCoupon()
	if err != nil {
		return err
	}
	_, err = c.invoke(ctx, ifaceContextManager, "LeaveCommonContext", url.Values{
		"participantCoupon": {string(coupon)},
	})
	c.setCoupon("")
	return err
}

// Suspend implements Client.
func (c *HTTPClient) Suspend(ctx context.Context) error {
	coupon, err := c.requireCoupon()
	if err != nil {
		return err
	}
	_, err = c.invoke(ctx, ifaceContextManager, "SuspendParticipation", url.Values{
		"participantCoupon": {string(coupon)},
	})
	return err
}

// Resume implements Client.
func (c *HTTPClient) Resume(ctx context.Context) error {
	coupon, err := c.requireCoupon()
	if err != nil {
		return err
	}
	_, err = c.invoke(ctx, ifaceContextManager, "ResumeParticipation", url.Values{
		"participantCoupon": {string(coupon)},
		"wait":              {"true"},
	})
	return err
}

// GetContext implements Client. It reads every item of the most recent
// context.
func (c *HTTPClient) GetContext(ctx context.Context) (Dictionary, error) {
	coupon, err := c.requireCoupon()
	if err != nil {
		return nil, err
	}

	out, err := c.invoke(ctx, ifaceContextManager, "GetMostRecentContextCoupon", nil)
	if err != nil {
		return nil, err
	}
	contextCoupon := out.Get("contextCoupon")

	out, err = c.invoke(ctx, ifaceContextData, "GetItemNames", url.Values{
		"contextCoupon": {contextCoupon},
	})
	if err != nil {
		return nil, err
	}
	names := splitList(out.Get("names"))
	if len(names) == 0 {
		return Dictionary{}, nil
	}

	out, err = c.invoke(ctx, ifaceContextData, "GetItemValues", url.Values{
		"participantCoupon": {string(coupon)},
		"itemNames":         {strings.Join(names, listSeparator)},
		"onlyChanges":       {"false"},
		"contextCoupon":     {contextCoupon},
	})
	if err != nil {
		return nil, err
	}
	return parseItemValues(out.Get("itemValues"))
}

// SetContext implements Client. The write runs as one transaction: start,
// set values, end (survey), publish decision. In strict mode any
// conditional survey response cancels the transaction. Items containing the
// list separator are refused before a transaction is opened.
func (c *HTTPClient) SetContext(ctx context.Context, values Dictionary, strict bool) error {
	for k, v := range values {
		if strings.Contains(string(k), listSeparator) || strings.Contains(v, listSeparator) {
			return fmt.Errorf("%w: %s", ErrInvalidItem, k)
		}
	}
	coupon, err := c.requireCoupon()
	if err != nil {
		return err
	}

	out, err := c.invoke(ctx, ifaceContextManager, "StartContextChanges", url.Values{
		"participantCoupon": {string(coupon)},
	})
	if err != nil {
		return err
	}
	contextCoupon := out.Get("contextCoupon")

	keys := values.Keys()
	names := make([]string, 0, len(keys))
	vals := make([]string, 0, len(keys))
	for _, k := range keys {
		names = append(names, string(k))
		vals = append(vals, values[k])
	}
	if _, err := c.invoke(ctx, ifaceContextData, "SetItemValues", url.Values{
		"participantCoupon": {string(coupon)},
		"itemNames":         {strings.Join(names, listSeparator)},
		"itemValues":        {strings.Join(vals, listSeparator)},
		"contextCoupon":     {contextCoupon},
	}); err != nil {
		c.undo(ctx, contextCoupon)
		return err
	}

	out, err = c.invoke(ctx, ifaceContextManager, "EndContextChanges", url.Values{
		"contextCoupon": {contextCoupon},
	})
	if err != nil {
		return err
	}
	noContinue, _ := strconv.ParseBool(out.Get("noContinue"))
	responses := nonEmpty(splitList(out.Get("responses")))

	decision := "accept"
	if noContinue || (strict && len(responses) > 0) {
		decision = "cancel"
	}
	if _, err := c.invoke(ctx, ifaceContextManager, "PublishChangesDecision", url.Values{
		"contextCoupon": {contextCoupon},
		"decision":      {decision},
	}); err != nil {
		return err
	}
	if decision == "cancel" {
		return &Exception{Kind: ExceptionChangesCanceled, Message: strings.Join(responses, "; ")}
	}
	return nil
}

func (c *HTTPClient) undo(ctx context.Context, contextCoupon string) {
	if _, err := c.invoke(ctx, ifaceContextManager, "UndoContextChanges", url.Values{
		"contextCoupon": {contextCoupon},
	}); err != nil {
		c.logger.Warn().Err(err).Str("context_coupon", contextCoupon).Msg("undo context changes failed")
	}
}

func (c *HTTPClient) requireCoupon() (Coupon, error) {
	coupon := c.ParticipantCoupon()
	if coupon == "" {
		return "", &Exception{Kind: ExceptionUnknownParticipant, Message: "no participant coupon"}
	}
	return coupon, nil
}

// invoke performs one Contextor method call. UnknownParticipant answers
// invalidate the held coupon.
func (c *HTTPClient) invoke(ctx context.Context, iface, method string, args url.Values) (url.Values, error) {
	q := url.Values{"interface": {iface}, "method": {method}}
	for k, v := range args {
		q[k] = v
	}

	resp, err := c.http.Get(ctx, c.contextorURL, q)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", iface, method, err)
	}

	out, err := url.ParseQuery(string(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("%s.%s: decode response: %w", iface, method, err)
	}
	if name := out.Get("exception"); name != "" {
		exc := &Exception{Kind: exceptionKind(name), Message: out.Get("exceptionMessage")}
		if exc.Kind == ExceptionUnknownParticipant {
			c.setCoupon("")
		}
		return nil, exc
	}
	if !resp.OK() {
		return nil, &Exception{Kind: ExceptionGeneral, Message: fmt.Sprintf("%s.%s: http status %d", iface, method, resp.StatusCode)}
	}
	return out, nil
}

func exceptionKind(name string) ExceptionKind {
	if !strings.HasSuffix(name, "Exception") {
		name += "Exception"
	}
	return ExceptionKind(name)
}

func splitList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, listSeparator)
}

func nonEmpty(items []string) []string {
	out := items[:0]
	for _, s := range items {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}

// parseItemValues decodes the alternating name|value list.
func parseItemValues(s string) (Dictionary, error) {
	items := splitList(s)
	if len(items)%2 != 0 {
		return nil, &Exception{Kind: ExceptionGeneral, Message: "odd number of entries in itemValues"}
	}
	d := make(Dictionary, len(items)/2)
	for i := 0; i < len(items); i += 2 {
		d[Key(items[i])] = items[i+1]
	}
	return d, nil
}
