// Package account loads the accounts a run iterates over.
package account

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
)

// ErrNoAccounts is returned when an input holds no account lines.
var ErrNoAccounts = errors.New("no accounts found")

// Account is one set of credentials. Loaded once, never mutated.
type Account struct {
	ID     string
	Secret string
	// Proxy is nil when the account connects directly.
	Proxy *Proxy
}

// String omits the secret so an Account can be logged safely.
func (a Account) String() string {
	if a.Proxy == nil {
		return a.ID
	}
	return fmt.Sprintf("%s via %s", a.ID, a.Proxy.Server)
}

// Proxy is an upstream proxy with optional credentials.
type Proxy struct {
	// Server is scheme://host:port, suitable for Chrome's --proxy-server.
	Server   string
	Username string
	Password string
}

// HasCredentials reports whether the proxy needs authentication.
func (p *Proxy) HasCredentials() bool {
	return p != nil && p.Username != ""
}

// ParseProxy parses "[scheme://][user:pass@]host:port". A missing scheme defaults to http.
func ParseProxy(spec string) (*Proxy, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return nil, nil
	}
	if !strings.Contains(spec, "://") {
		spec = "http://" + spec
	}
	u, err := url.Parse(spec)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy: %w", err)
	}
	if u.Hostname() == "" || u.Port() == "" {
		return nil, fmt.Errorf("invalid proxy %q: host and port are required", u.Redacted())
	}

	p := &Proxy{Server: fmt.Sprintf("%s://%s", u.Scheme, u.Host)}
	if u.User != nil {
		p.Username = u.User.Username()
		p.Password, _ = u.User.Password()
	}
	return p, nil
}

// ParseLine parses one "identifier|secret|optional-proxy" record.
func ParseLine(line string) (Account, error) {
	parts := strings.SplitN(strings.TrimSpace(line), "|", 3)
	if len(parts) < 2 {
		return Account{}, errors.New("expected identifier|secret[|proxy]")
	}
	acc := Account{ID: strings.TrimSpace(parts[0]), Secret: strings.TrimSpace(parts[1])}
	if acc.ID == "" || acc.Secret == "" {
		return Account{}, errors.New("identifier and secret must not be empty")
	}
	if len(parts) == 3 {
		proxy, err := ParseProxy(parts[2])
		if err != nil {
			return Account{}, err
		}
		acc.Proxy = proxy
	}
	return acc, nil
}

// Read parses accounts from r in input order. Blank lines and lines starting
// with '#' are skipped.
func Read(r io.Reader) ([]Account, error) {
	var accounts []Account
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		acc, err := ParseLine(line)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		accounts = append(accounts, acc)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, ErrNoAccounts
	}
	return accounts, nil
}

// Load reads accounts from the file at path.
func Load(path string) ([]Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open accounts file: %w", err)
	}
	defer f.Close()

	accounts, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return accounts, nil
}
