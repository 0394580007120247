package entra

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/goccy/go-json"
	"github.com/open-sspm/geoalert/internal/normalize"
)

const odataTypeUser = "#microsoft.graph.user"

type DirectoryMember struct {
	ID                string `json:"id"`
	ODataType         string `json:"@odata.type"`
	DisplayName       string `json:"displayName"`
	UserPrincipalName string `json:"userPrincipalName"`
}

type User struct {
	ID                string `json:"id"`
	DisplayName       string `json:"displayName"`
	Mail              string `json:"mail"`
	UserPrincipalName string `json:"userPrincipalName"`
}

func (c *Client) ListGroupMembers(ctx context.Context, groupID string) ([]DirectoryMember, error) {
	groupID = strings.TrimSpace(groupID)
	if groupID == "" {
		return nil, errors.New("group id is required")
	}
	endpoint, err := c.graphURL("/groups/"+url.PathEscape(groupID)+"/members", url.Values{
		"$select": []string{"id,displayName,userPrincipalName"},
		"$top":    []string{"999"},
	})
	if err != nil {
		return nil, err
	}

	rawItems, err := c.listPagedRaw(ctx, endpoint)
	if err != nil {
		return nil, err
	}

	out := make([]DirectoryMember, 0, len(rawItems))
	for _, raw := range rawItems {
		var m DirectoryMember
		if err := json.Unmarshal(raw, &m); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

func (c *Client) GetUser(ctx context.Context, userID string) (User, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return User{}, errors.New("user id is required")
	}
	endpoint, err := c.graphURL("/users/"+url.PathEscape(userID), url.Values{
		"$select": []string{"id,displayName,mail,userPrincipalName"},
	})
	if err != nil {
		return User{}, err
	}
	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return User{}, err
	}
	var u User
	if err := json.Unmarshal(body, &u); err != nil {
		return User{}, err
	}
	return u, nil
}

// Directory resolves a group to the user principal names of its members.
type Directory struct {
	client *Client
	logger *slog.Logger
}

func NewDirectory(client *Client, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{client: client, logger: logger}
}

// ResolvePrincipals lists the group's members. Members returned without a
// UPN get one user lookup each; those still lacking one are logged and
// skipped. Duplicates are dropped case-insensitively, first spelling wins.
func (d *Directory) ResolvePrincipals(ctx context.Context, groupID string) ([]string, error) {
	members, err := d.client.ListGroupMembers(ctx, groupID)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(members))
	out := make([]string, 0, len(members))
	add := func(upn string) {
		upn = normalize.Trim(upn)
		key := normalize.PrincipalKey(upn)
		if key == "" {
			return
		}
		if _, ok := seen[key]; ok {
			return
		}
		seen[key] = struct{}{}
		out = append(out, upn)
	}

	for _, m := range members {
		if t := normalize.Trim(m.ODataType); t != "" && !strings.EqualFold(t, odataTypeUser) {
			d.logger.Warn("skipping non-user group member", "group_id", groupID, "member_id", m.ID, "odata_type", t)
			continue
		}
		if normalize.Trim(m.UserPrincipalName) != "" {
			add(m.UserPrincipalName)
			continue
		}
		if normalize.Trim(m.ID) == "" {
			d.logger.Warn("group member has neither id nor userPrincipalName", "group_id", groupID)
			continue
		}
		u, err := d.client.GetUser(ctx, m.ID)
		if IsNotFound(err) {
			d.logger.Warn("missing userPrincipalName for group member", "group_id", groupID, "member_id", m.ID, "err", err)
			continue
		}
		if err != nil {
			return nil, err
		}
		if normalize.Trim(u.UserPrincipalName) == "" {
			d.logger.Warn("missing userPrincipalName for group member", "group_id", groupID, "member_id", m.ID)
			continue
		}
		add(u.UserPrincipalName)
	}
	return out, nil
}
