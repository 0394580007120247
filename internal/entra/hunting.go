package entra

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
	"github.com/open-sspm/geoalert/internal/alerting"
	"github.com/open-sspm/geoalert/internal/kql"
)

const (
	signInTable = "AADSignInEventsBeta"

	colTimestamp     = "Timestamp"
	colAccountUpn    = "AccountUpn"
	colIPAddress     = "IPAddress"
	colCountry       = "Country"
	colCity          = "City"
	colState         = "State"
	colErrorCode     = "ErrorCode"
	colCAStatus      = "ConditionalAccessStatus"
	monitoredUsersID = "monitoredUsers"

	// conditionalAccessNotApplied is ConditionalAccessStatus 2: no policy applied.
	conditionalAccessNotApplied = 2
)

// HuntingResult is the body returned by security/runHuntingQuery.
type HuntingResult struct {
	Schema []struct {
		Name string `json:"Name"`
		Type string `json:"Type"`
	} `json:"schema"`
	Results []map[string]any `json:"results"`
}

// RunHuntingQuery executes an advanced hunting query on the Graph beta API.
func (c *Client) RunHuntingQuery(ctx context.Context, query string) (HuntingResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return HuntingResult{}, errors.New("hunting query is required")
	}
	endpoint, err := c.graphBetaURL("/security/runHuntingQuery")
	if err != nil {
		return HuntingResult{}, err
	}
	body, err := c.do(ctx, http.MethodPost, endpoint, map[string]string{"Query": query})
	if err != nil {
		return HuntingResult{}, err
	}
	var out HuntingResult
	if err := json.Unmarshal(body, &out); err != nil {
		return HuntingResult{}, err
	}
	return out, nil
}

// SignInQuery builds the successful, non-conditional-access sign-ins by
// monitored principals from outside the allowed country after q.Since.
func SignInQuery(q alerting.Query) (string, error) {
	users, err := kql.Dynamic(q.Principals...)
	if err != nil {
		return "", err
	}
	return kql.From(signInTable).
		Let(monitoredUsersID, users).
		Where(kql.Greater(colTimestamp, kql.Datetime(q.Since))).
		Where(kql.NotEqual(colCountry, kql.String(q.AllowedCountry))).
		Where(kql.Equal(colErrorCode, kql.Int(0))).
		Where(kql.Equal(colCAStatus, kql.Int(conditionalAccessNotApplied))).
		Where(kql.In(colAccountUpn, kql.Ident(monitoredUsersID))).
		Project(colTimestamp, colAccountUpn, colIPAddress, colCountry, colCity, colState).
		String(), nil
}

// SignInSource fetches sign-in telemetry through advanced hunting.
type SignInSource struct {
	client *Client
}

func NewSignInSource(client *Client) *SignInSource {
	return &SignInSource{client: client}
}

func (s *SignInSource) FetchSignIns(ctx context.Context, q alerting.Query) ([]alerting.Record, error) {
	query, err := SignInQuery(q)
	if err != nil {
		return nil, err
	}
	res, err := s.client.RunHuntingQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	out := make([]alerting.Record, 0, len(res.Results))
	for _, row := range res.Results {
		out = append(out, alerting.Record{
			Timestamp: cell(row, colTimestamp),
			Principal: cell(row, colAccountUpn),
			SourceIP:  cell(row, colIPAddress),
			Country:   cell(row, colCountry),
			City:      cell(row, colCity),
			Region:    cell(row, colState),
		})
	}
	return out, nil
}

func cell(row map[string]any, key string) string {
	switch v := row[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
