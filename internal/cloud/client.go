package cloud

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/nerrad567/daikin-cloud-core/internal/infrastructure/logging"
)

// userAgent mirrors the vendor mobile app. Some deployments reject
// unfamiliar clients.
const userAgent = "DaikinMobileController/2.0.0 CFNetwork/3860.100.1 Darwin/25.0.0"

// Default endpoints that expose the app client credentials in their
// responses. Overridable for tests.
var defaultCredentialDiscoveryURLs = []string{
	"https://scr.dspsph.com/common/login",
	"https://proddit.ditdeneb.com/common/login",
}

// UnitInfo identifies a unit discovered on the account.
type UnitInfo struct {
	EdgeID string
	Name   string
	MAC    string
}

// UnitStatus is a decoded status snapshot. Pointer fields are nil when
// the corresponding parameter was absent or undecodable; Raw always
// carries the flattened parameter map for diagnostics and for building
// the next write.
type UnitStatus struct {
	PowerOn      *bool
	ModeCode     string
	FanCode      string
	TargetTempC  *float64
	RoomTempC    *float64
	RoomHumidity *int
	SensorTemp1C *float64
	SensorTemp2C *float64
	Raw          map[string]string
}

// WriteRequest describes a state write for one unit. Raw must carry the
// unit's last observed status map so unchanged parameters can be echoed
// back, which the firmware requires.
type WriteRequest struct {
	PowerOn   bool
	ModeCode  string
	Overrides map[string]string
	Raw       map[string]string
}

// ClientConfig holds transport settings for the protocol client.
type ClientConfig struct {
	BaseURL                 string
	RequestTimeout          time.Duration
	CredentialDiscoveryURLs []string
}

// Client speaks the vendor cloud protocol. It is stateless with respect
// to units; callers own state and pass the last observed status into
// writes. Session handling is delegated to the Manager, which calls back
// into Login.
type Client struct {
	http     *http.Client
	baseURL  string
	discover []string
	store    Store
	sessions *Manager
	logger   *logging.Logger
}

// NewClient creates a protocol client. SetSessionManager must be called
// before any authenticated method.
func NewClient(cfg ClientConfig, store Store, logger *logging.Logger) *Client {
	urls := cfg.CredentialDiscoveryURLs
	if len(urls) == 0 {
		urls = defaultCredentialDiscoveryURLs
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		http:     &http.Client{Timeout: timeout},
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		discover: urls,
		store:    store,
		logger:   logger.With("component", "cloud_client"),
	}
}

// SetSessionManager wires the session manager. Separate from NewClient
// because the manager needs the client's Login method first.
func (c *Client) SetSessionManager(m *Manager) {
	c.sessions = m
}

// Login exchanges the account credential for a fresh token set. Resolves
// the app client identity first when the credential does not carry one
// yet, persisting the result so later logins skip resolution.
func (c *Client) Login(ctx context.Context, cred *Credential) (*Session, error) {
	if cred.ClientID == "" || cred.ClientSecret == "" {
		if err := c.resolveClientCredentials(ctx, cred); err != nil {
			return nil, err
		}
	}

	body := loginRequest{
		ClientSecret: cred.ClientSecret,
		UserID:       cred.Username,
		UUID:         cred.ClientUUID,
		Password:     cred.Password,
		ClientID:     cred.ClientID,
		GrantType:    "password",
	}
	status, data, err := c.doRequest(ctx, http.MethodPost, c.baseURL+loginPath, body, "")
	if err != nil {
		return nil, fmt.Errorf("%w: login request: %v", ErrAuthenticationFailed, err)
	}

	var resp loginResponse
	if status != http.StatusOK || json.Unmarshal(data, &resp) != nil {
		return nil, fmt.Errorf("%w: HTTP %d body=%s", ErrAuthenticationFailed, status, truncate(data, 300))
	}
	if resp.RSC != rscOK {
		return nil, fmt.Errorf("%w: rsc=%d error=%s", ErrAuthenticationFailed, resp.RSC, resp.Error)
	}
	if resp.AccessToken == "" && resp.IDToken == "" {
		return nil, fmt.Errorf("%w: login succeeded but returned no tokens", ErrAuthenticationFailed)
	}

	return &Session{
		AccessToken:  resp.AccessToken,
		IDToken:      resp.IDToken,
		RefreshToken: resp.RefreshToken,
	}, nil
}

// DiscoverUnits fetches the unit catalogue. Both edge listing shapes are
// requested because account variants answer different ones.
func (c *Client) DiscoverUnits(ctx context.Context) ([]UnitInfo, error) {
	resp, err := c.multireq(ctx, http.MethodPost, []requestItem{
		{Op: opRead, To: "/dsiot/edges?expand"},
		{Op: opRead, To: "/dsiot/edges"},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDiscoveryFailed, err)
	}

	units := map[string]*UnitInfo{}
	order := []string{}
	merge := func(edgeID string, pch []Node) {
		info := units[edgeID]
		if info == nil {
			info = &UnitInfo{EdgeID: edgeID}
			units[edgeID] = info
			order = append(order, edgeID)
		}
		edge := Node{PCH: pch}
		if adp := edge.Child("adp_d"); adp != nil {
			if name := adp.Child("name"); name != nil {
				if v, ok := name.Value(); ok && v != "" {
					info.Name = v
				}
			}
		}
		if adp := edge.Child("adp_i"); adp != nil {
			if mac := adp.Child("mac"); mac != nil {
				if v, ok := mac.Value(); ok && v != "" {
					info.MAC = v
				}
			}
		}
	}

	for _, item := range resp.Responses {
		if item.FR == "/dsiot/edges" {
			var edges []edgeEntry
			if err := json.Unmarshal(item.PC, &edges); err != nil {
				var single edgeEntry
				if json.Unmarshal(item.PC, &single) != nil {
					continue
				}
				edges = []edgeEntry{single}
			}
			for _, e := range edges {
				if id := strings.TrimSpace(e.RI); id != "" {
					merge(id, e.PCH)
				}
			}
			continue
		}

		// Per-edge response fragments from the expanded listing.
		if edgeID, ok := edgeIDFromPath(item.FR); ok {
			var node Node
			if json.Unmarshal(item.PC, &node) == nil {
				merge(edgeID, []Node{node})
			}
		}
	}

	out := make([]UnitInfo, 0, len(order))
	for _, id := range order {
		info := units[id]
		if info.Name == "" {
			info.Name = "Daikin " + id
		}
		out = append(out, *info)
	}
	c.logger.Debug("discovery complete", "units", len(out))
	return out, nil
}

// FetchStatus reads the status tree for each edge and returns decoded
// snapshots keyed by edge ID. Edges missing from the response are simply
// absent from the map. A transport failure, or the backend rejecting
// every requested edge, is reported as ErrUnitUnreachable; session and
// authorization failures pass through unchanged for the caller to
// classify.
func (c *Client) FetchStatus(ctx context.Context, edgeIDs []string) (map[string]UnitStatus, error) {
	if len(edgeIDs) == 0 {
		return map[string]UnitStatus{}, nil
	}
	items := make([]requestItem, 0, len(edgeIDs))
	for _, id := range edgeIDs {
		items = append(items, requestItem{
			Op: opRead,
			To: fmt.Sprintf("/dsiot/edges/%s/adr_0100.dgc_status?filter=pv", id),
		})
	}

	resp, err := c.multireq(ctx, http.MethodPost, items)
	if err != nil {
		if isSessionError(err) || errors.Is(err, ErrUnauthorized) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %w", ErrUnitUnreachable, err)
	}

	rejected := 0
	out := make(map[string]UnitStatus, len(edgeIDs))
	for _, item := range resp.Responses {
		if !strings.Contains(item.FR, "/adr_0100.dgc_status") {
			continue
		}
		edgeID, ok := edgeIDFromPath(item.FR)
		if !ok {
			continue
		}
		if item.RSC != 0 && item.RSC != rscOK && item.RSC != rscAccepted {
			c.logger.Warn("status read rejected", "edge_id", edgeID, "rsc", item.RSC)
			rejected++
			continue
		}
		var pc Node
		if json.Unmarshal(item.PC, &pc) != nil {
			continue
		}
		root := pc.Child("e_1002")
		if root == nil {
			continue
		}
		raw := map[string]string{}
		for i := range root.PCH {
			group := &root.PCH[i]
			if group.PN == "" {
				continue
			}
			for key, value := range group.ValueMap() {
				raw[group.PN+"."+key] = value
			}
		}
		out[edgeID] = StatusFromRaw(raw)
	}

	// Partial rejections leave the failed edges out of the map; when
	// nothing at all could be read the whole call reports unreachable.
	if len(out) == 0 && rejected > 0 {
		return nil, fmt.Errorf("%w: %d of %d status reads rejected", ErrUnitUnreachable, rejected, len(edgeIDs))
	}
	return out, nil
}

// WriteState submits a control write for one unit. The vendor treats
// rsc 2000 and 2004 as accepted; anything else is a rejection even when
// HTTP reports success.
func (c *Client) WriteState(ctx context.Context, edgeID string, req WriteRequest) error {
	modeCode := req.ModeCode
	if modeCode == "" {
		if current, ok := normalizeHexCode(req.Raw["e_3001.p_01"], 4); ok {
			modeCode = current
		} else {
			modeCode = ModeCodeCool
		}
	}
	fanCode := req.Raw["e_3003.p_2D"]
	if fanCode == "" {
		fanCode = "02"
	}
	powerCode := PowerCodeOff
	if req.PowerOn {
		powerCode = PowerCodeOn
	}

	body := []requestItem{{
		Op: opWrite,
		To: fmt.Sprintf("/dsiot/edges/%s/adr_0100.dgc_status", edgeID),
		PC: &Node{
			PN: "dgc_status",
			PCH: []Node{{
				PN: "e_1002",
				PCH: []Node{
					{PN: "e_3001", PCH: buildModePatch(req.Raw, modeCode, req.Overrides)},
					{PN: "e_3003", PCH: []Node{{PN: "p_2D", PV: fanCode}}},
					{PN: "e_A002", PCH: []Node{{PN: "p_01", PV: powerCode}}},
				},
			}},
		},
	}}

	resp, err := c.multireq(ctx, http.MethodPut, body)
	if err != nil {
		return err
	}
	if len(resp.Responses) > 0 {
		rsc := resp.Responses[0].RSC
		if rsc != rscOK && rsc != rscAccepted {
			return fmt.Errorf("%w: rsc=%d", ErrCommandRejected, rsc)
		}
	}
	return nil
}

// multireq sends a batched request, trying both token types and retrying
// once after a fresh login. Locks the session manager onto whichever
// token type the backend accepted.
func (c *Client) multireq(ctx context.Context, method string, items []requestItem) (*multiResponse, error) {
	var lastStatus int
	var lastBody []byte

	for attempt := 0; attempt < 2; attempt++ {
		sess, err := c.sessions.EnsureSession(ctx)
		if err != nil {
			return nil, err
		}

		for _, cand := range tokenCandidates(sess) {
			status, data, err := c.doRequest(ctx, method, c.baseURL+multireqPath, multiRequest{Requests: items}, cand.token)
			if err != nil {
				return nil, fmt.Errorf("multireq: %w", err)
			}
			lastStatus, lastBody = status, data

			if status == http.StatusOK {
				var resp multiResponse
				if jsonErr := json.Unmarshal(data, &resp); jsonErr == nil {
					c.sessions.SetAuthMode(ctx, cand.mode)
					return &resp, nil
				}
			}
		}

		if attempt == 0 {
			c.sessions.Invalidate(ctx, fmt.Sprintf("multireq rejected with HTTP %d", lastStatus))
		}
	}

	return nil, fmt.Errorf("%w: HTTP %d body=%s", ErrUnauthorized, lastStatus, truncate(lastBody, 300))
}

type tokenCandidate struct {
	mode  string
	token string
}

// tokenCandidates orders the session's tokens with the known-working
// mode first.
func tokenCandidates(sess *Session) []tokenCandidate {
	var out []tokenCandidate
	if sess.AuthMode == AuthModeAccessToken {
		if sess.AccessToken != "" {
			out = append(out, tokenCandidate{AuthModeAccessToken, sess.AccessToken})
		}
		if sess.IDToken != "" {
			out = append(out, tokenCandidate{AuthModeIDToken, sess.IDToken})
		}
		return out
	}
	if sess.IDToken != "" {
		out = append(out, tokenCandidate{AuthModeIDToken, sess.IDToken})
	}
	if sess.AccessToken != "" {
		out = append(out, tokenCandidate{AuthModeAccessToken, sess.AccessToken})
	}
	return out
}

// resolveClientCredentials recovers the app client_id/client_secret from
// the vendor's public endpoints. Several endpoints leak the pair in both
// success and error payloads, so error bodies are scanned too.
func (c *Client) resolveClientCredentials(ctx context.Context, cred *Credential) error {
	variants := []map[string]string{
		{"user_id": cred.Username, "password": cred.Password, "uuid": cred.ClientUUID},
		{"username": cred.Username, "password": cred.Password, "uuid": cred.ClientUUID},
		{"user_id": cred.Username, "password": cred.Password},
		{"username": cred.Username, "password": cred.Password},
	}

	for _, url := range c.discover {
		for _, payload := range variants {
			status, data, err := c.doRequest(ctx, http.MethodPost, url, payload, "")
			if err != nil {
				continue
			}

			id, secret, found := extractClientCredentialsJSON(data)
			if !found {
				id, secret, found = extractClientCredentialsText(string(data))
			}
			if !found && (status == http.StatusBadRequest || status == http.StatusUnauthorized || status == http.StatusForbidden) {
				id, secret, found = extractClientCredentialsText(string(data))
			}
			if found {
				cred.ClientID = id
				cred.ClientSecret = secret
				if err := c.store.PutCredential(ctx, cred); err != nil {
					c.logger.Warn("failed to persist resolved client credentials", "error", err)
				}
				c.logger.Info("resolved client credentials", "url", url)
				return nil
			}
		}
	}
	return fmt.Errorf("%w: no endpoint returned a usable client identity", ErrCredentialResolution)
}

// doRequest performs one HTTP exchange. The token, when non-empty, is
// sent as a bearer Authorization header. Returns the raw response body
// so callers can decode per expected shape.
func (c *Client) doRequest(ctx context.Context, method, url string, body any, token string) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("reading response body: %w", err)
	}
	return resp.StatusCode, data, nil
}

type edgeEntry struct {
	RI  string `json:"ri"`
	PCH []Node `json:"pch"`
}

// edgeIDFromPath extracts the edge ID from a response path such as
// /dsiot/edges/1234/adr_0100.dgc_status.
func edgeIDFromPath(fr string) (string, bool) {
	parts := strings.Split(fr, "/")
	if len(parts) < 4 || parts[1] != "dsiot" || parts[2] != "edges" {
		return "", false
	}
	id := parts[3]
	if id == "" {
		return "", false
	}
	for _, r := range id {
		if r < '0' || r > '9' {
			return "", false
		}
	}
	return id, true
}

// StatusFromRaw turns a flattened raw status map into a typed snapshot.
// Exported because the synchronizer re-decodes a unit's last observed
// raw map when reverting an unconfirmed optimistic change.
func StatusFromRaw(raw map[string]string) UnitStatus {
	st := UnitStatus{Raw: raw}

	if code, ok := normalizeHexCode(raw["e_A002.p_01"], 2); ok {
		on := code == PowerCodeOn
		st.PowerOn = &on
	}
	if code, ok := normalizeHexCode(raw["e_3001.p_01"], 4); ok {
		st.ModeCode = code
	}
	if code, ok := extractFanSpeedCode(raw, st.ModeCode); ok {
		st.FanCode = code
	}
	if v, ok := decodeHexHalfDegree(raw["e_3001.p_02"]); ok {
		st.TargetTempC = &v
	}
	if v, ok := decodeHexSignedByte(raw["e_A00B.p_01"]); ok {
		f := float64(v)
		st.RoomTempC = &f
	}
	if v, ok := decodeHexInt(raw["e_A00B.p_02"]); ok {
		st.RoomHumidity = &v
	}
	if v, ok := decodeHexLEI16HalfDegree(raw["e_A00B.p_05"]); ok {
		st.SensorTemp1C = &v
	}
	if v, ok := decodeHexLEI16HalfDegree(raw["e_A00B.p_06"]); ok {
		st.SensorTemp2C = &v
	}
	return st
}

var (
	clientIDPattern     = regexp.MustCompile(`(?i)client[_-]?id['"\s:=]+([A-Za-z0-9._-]{8,})`)
	clientSecretPattern = regexp.MustCompile(`(?i)client[_-]?secret['"\s:=]+([A-Za-z0-9._-]{16,})`)
)

// extractClientCredentialsJSON walks arbitrarily nested JSON looking for
// a client_id/client_secret string pair.
func extractClientCredentialsJSON(data []byte) (string, string, bool) {
	var payload any
	if json.Unmarshal(data, &payload) != nil {
		return "", "", false
	}

	queue := []any{payload}
	for len(queue) > 0 {
		node := queue[len(queue)-1]
		queue = queue[:len(queue)-1]

		switch v := node.(type) {
		case map[string]any:
			lowered := make(map[string]any, len(v))
			for k, val := range v {
				lowered[strings.ToLower(k)] = val
			}
			id, _ := firstString(lowered, "client_id", "clientid")
			secret, _ := firstString(lowered, "client_secret", "clientsecret")
			if id != "" && secret != "" {
				return strings.TrimSpace(id), strings.TrimSpace(secret), true
			}
			for k, val := range lowered {
				if k == "client_id" || k == "clientid" || k == "client_secret" || k == "clientsecret" {
					continue
				}
				switch val.(type) {
				case map[string]any, []any:
					queue = append(queue, val)
				}
			}
		case []any:
			queue = append(queue, v...)
		}
	}
	return "", "", false
}

func firstString(m map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := m[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

// extractClientCredentialsText regex-scans non-JSON payloads. Some
// endpoints embed the pair in HTML error pages.
func extractClientCredentialsText(text string) (string, string, bool) {
	if text == "" {
		return "", "", false
	}
	idMatch := clientIDPattern.FindStringSubmatch(text)
	secretMatch := clientSecretPattern.FindStringSubmatch(text)
	if idMatch == nil || secretMatch == nil {
		return "", "", false
	}
	return idMatch[1], secretMatch[1], true
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n])
}
