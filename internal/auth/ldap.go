package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/go-ldap/ldap/v3"
	"github.com/npezzotti/go-dirchat/internal/config"
	"github.com/rs/zerolog"
)

const (
	dialTimeout   = 10 * time.Second
	searchTimeout = 30 * time.Second
	pageSize      = 500
)

var userAttributes = []string{"sAMAccountName", "displayName", "mail", "department", "title"}

type directoryConn interface {
	Bind(username, password string) error
	NTLMBind(domain, username, password string) error
	Search(req *ldap.SearchRequest) (*ldap.SearchResult, error)
	SearchWithPaging(req *ldap.SearchRequest, pagingSize uint32) (*ldap.SearchResult, error)
}

type dialFunc func(url string) (directoryConn, func(), error)

func dialLDAP(url string) (directoryConn, func(), error) {
	conn, err := ldap.DialURL(url, ldap.DialWithDialer(&net.Dialer{Timeout: dialTimeout}))
	if err != nil {
		return nil, nil, err
	}
	conn.SetTimeout(searchTimeout)

	return conn, func() { conn.Close() }, nil
}

// LDAPAuthenticator verifies credentials by binding to an Active
// Directory server and reads the profile with the service account.
type LDAPAuthenticator struct {
	cfg  config.LDAPConfig
	dial dialFunc
	log  zerolog.Logger
}

func NewLDAPAuthenticator(cfg config.LDAPConfig, logger zerolog.Logger) *LDAPAuthenticator {
	return &LDAPAuthenticator{
		cfg:  cfg,
		dial: dialLDAP,
		log:  logger.With().Str("component", "ldap").Logger(),
	}
}

func (la *LDAPAuthenticator) Authenticate(ctx context.Context, username, password string) (Identity, error) {
	// an empty password is an unauthenticated bind, which succeeds
	if username == "" || password == "" {
		return Identity{}, ErrInvalidCredentials
	}
	if err := ctx.Err(); err != nil {
		return Identity{}, err
	}

	userConn, closeUser, err := la.dial(la.cfg.URL)
	if err != nil {
		return Identity{}, fmt.Errorf("dial: %w", err)
	}
	defer closeUser()

	if err := la.bindUser(userConn, username, password); err != nil {
		return Identity{}, err
	}

	conn, closeConn, err := la.serviceConn(userConn)
	if err != nil {
		return Identity{}, err
	}
	defer closeConn()

	entry, err := la.findUser(conn, username)
	if err != nil {
		return Identity{}, err
	}

	id := identityFromEntry(entry)
	if la.cfg.AdminGroup != "" {
		isAdmin, err := la.isMember(conn, entry.DN, la.cfg.AdminGroup)
		if err != nil {
			la.log.Warn().Err(err).Str("username", username).Msg("admin group lookup failed")
		}
		id.IsAdmin = isAdmin
	}

	return id, nil
}

// bindUser tries NTLM first and falls back to a simple bind with the
// user principal name.
func (la *LDAPAuthenticator) bindUser(conn directoryConn, username, password string) error {
	ntlmErr := conn.NTLMBind(la.cfg.Domain, username, password)
	if ntlmErr == nil {
		return nil
	}

	err := conn.Bind(username+"@"+la.cfg.Domain, password)
	if err == nil {
		return nil
	}

	la.log.Debug().Err(ntlmErr).Str("username", username).Msg("ntlm bind failed")
	if ldap.IsErrorWithCode(err, ldap.LDAPResultInvalidCredentials) {
		return ErrInvalidCredentials
	}

	return fmt.Errorf("bind: %w", err)
}

// serviceConn returns a connection bound as the service account, or the
// user's own connection when no service account is configured.
func (la *LDAPAuthenticator) serviceConn(userConn directoryConn) (directoryConn, func(), error) {
	if la.cfg.ServiceAccount == "" {
		return userConn, func() {}, nil
	}

	conn, closeConn, err := la.dial(la.cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("dial: %w", err)
	}

	if err := la.bindService(conn); err != nil {
		closeConn()
		return nil, nil, err
	}

	return conn, closeConn, nil
}

func (la *LDAPAuthenticator) bindService(conn directoryConn) error {
	account := la.cfg.ServiceAccount
	if !strings.Contains(account, "@") && !strings.Contains(account, "=") {
		account = account + "@" + la.cfg.Domain
	}
	if err := conn.Bind(account, la.cfg.ServicePassword); err != nil {
		return fmt.Errorf("service bind: %w", err)
	}
	return nil
}

func (la *LDAPAuthenticator) findUser(conn directoryConn, username string) (*ldap.Entry, error) {
	req := ldap.NewSearchRequest(
		la.cfg.SearchBase,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, 0, false,
		fmt.Sprintf("(sAMAccountName=%s)", ldap.EscapeFilter(username)),
		userAttributes,
		nil,
	)

	res, err := conn.Search(req)
	if err != nil && !ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) {
		return nil, fmt.Errorf("search user: %w", err)
	}
	if res == nil || len(res.Entries) == 0 {
		return nil, ErrInvalidCredentials
	}

	return res.Entries[0], nil
}

func (la *LDAPAuthenticator) isMember(conn directoryConn, userDN, groupDN string) (bool, error) {
	req := ldap.NewSearchRequest(
		la.cfg.SearchBase,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 1, 0, false,
		fmt.Sprintf("(&(objectClass=group)(distinguishedName=%s)(member=%s))",
			ldap.EscapeFilter(groupDN), ldap.EscapeFilter(userDN)),
		[]string{"cn"},
		nil,
	)

	res, err := conn.Search(req)
	if err != nil && !ldap.IsErrorWithCode(err, ldap.LDAPResultSizeLimitExceeded) {
		return false, fmt.Errorf("search group: %w", err)
	}

	return res != nil && len(res.Entries) > 0, nil
}

// ListUsers returns every user object under the configured OUs.
func (la *LDAPAuthenticator) ListUsers(ctx context.Context) ([]Identity, error) {
	if la.cfg.ServiceAccount == "" {
		return nil, errors.New("listing users requires a service account")
	}

	conn, closeConn, err := la.dial(la.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	defer closeConn()

	if err := la.bindService(conn); err != nil {
		return nil, err
	}

	bases := la.cfg.UserOUs
	if len(bases) == 0 {
		bases = []string{la.cfg.SearchBase}
	}

	var ids []Identity
	for _, base := range bases {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req := ldap.NewSearchRequest(
			base,
			ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
			"(&(objectClass=user)(objectCategory=person))",
			userAttributes,
			nil,
		)

		res, err := conn.SearchWithPaging(req, pageSize)
		if err != nil {
			return nil, fmt.Errorf("search %q: %w", base, err)
		}

		for _, entry := range res.Entries {
			id := identityFromEntry(entry)
			if id.Username == "" {
				continue
			}
			ids = append(ids, id)
		}
	}

	return ids, nil
}

func identityFromEntry(entry *ldap.Entry) Identity {
	username := entry.GetAttributeValue("sAMAccountName")
	fullname := entry.GetAttributeValue("displayName")
	if fullname == "" {
		fullname = username
	}

	return Identity{
		Username:   username,
		Fullname:   fullname,
		Email:      entry.GetAttributeValue("mail"),
		Department: entry.GetAttributeValue("department"),
		Position:   entry.GetAttributeValue("title"),
	}
}
