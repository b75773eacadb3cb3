package device

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/go-routeros/routeros/v3"
	"github.com/go-routeros/routeros/v3/proto"

	"github.com/wispkit/wispd/internal/model"
)

// RouterOS talks the MikroTik API protocol. One TCP connection per call,
// bounded by Timeout, closed on every exit path.
type RouterOS struct {
	Timeout     time.Duration
	DefaultPort int
}

// NewRouterOS returns a RouterOS client with the given per-call timeout.
func NewRouterOS(timeout time.Duration, defaultPort int) *RouterOS {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if defaultPort <= 0 {
		defaultPort = 8728
	}
	return &RouterOS{Timeout: timeout, DefaultPort: defaultPort}
}

// run dials the router, executes one command, and closes the connection.
func (c *RouterOS) run(ctx context.Context, r model.Router, sentence ...string) (*routeros.Reply, error) {
	port := r.Port
	if port == 0 {
		port = c.DefaultPort
	}
	addr := net.JoinHostPort(r.Address, strconv.Itoa(port))

	dialer := net.Dialer{Timeout: c.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: dial %s: %v", ErrUnavailable, addr, err)
	}
	// Bound login plus the command by one deadline.
	deadline := time.Now().Add(c.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	client, err := routeros.NewClient(conn)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("%w: handshake %s: %v", ErrUnavailable, addr, err)
	}
	defer client.Close()

	if err := client.Login(r.Username, r.Password); err != nil {
		return nil, fmt.Errorf("%w: login %s: %v", ErrUnavailable, addr, err)
	}

	reply, err := client.Run(sentence...)
	if err != nil {
		if isTimeout(err) {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnavailable, sentence[0], err)
		}
		return nil, fmt.Errorf("device: %s on router %s: %w", sentence[0], r.ID, err)
	}
	return reply, nil
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// returnedID extracts the "=ret=" value from an add command's !done sentence.
func returnedID(reply *routeros.Reply) string {
	if reply == nil || reply.Done == nil {
		return UnknownID
	}
	return reply.Done.Map["ret"]
}

// ListProfiles returns all PPP profiles on the router.
func (c *RouterOS) ListProfiles(ctx context.Context, r model.Router) ([]Profile, error) {
	reply, err := c.run(ctx, r, "/ppp/profile/print",
		"=.proplist=.id,name,rate-limit,local-address,remote-address")
	if err != nil {
		return nil, err
	}
	profiles := make([]Profile, 0, len(reply.Re))
	for _, re := range reply.Re {
		profiles = append(profiles, profileFromSentence(re))
	}
	return profiles, nil
}

// CreateProfile creates a PPP profile and echoes back its assigned id.
func (c *RouterOS) CreateProfile(ctx context.Context, r model.Router, spec ProfileSpec) (Profile, error) {
	args := []string{"/ppp/profile/add", "=name=" + spec.Name}
	if spec.RateLimit != "" {
		args = append(args, "=rate-limit="+rateLimitArg(spec.RateLimit, spec.BurstLimit))
	}
	if spec.LocalAddress != "" {
		args = append(args, "=local-address="+spec.LocalAddress)
	}
	if spec.RemoteAddress != "" {
		args = append(args, "=remote-address="+spec.RemoteAddress)
	}
	reply, err := c.run(ctx, r, args...)
	if err != nil {
		return Profile{}, mapTrap(err, r.ID, "profile", spec.Name)
	}
	return Profile{
		ID:            returnedID(reply),
		Name:          spec.Name,
		RateLimit:     spec.RateLimit,
		BurstLimit:    spec.BurstLimit,
		LocalAddress:  spec.LocalAddress,
		RemoteAddress: spec.RemoteAddress,
	}, nil
}

// UpdateProfile patches a PPP profile by its stable id.
func (c *RouterOS) UpdateProfile(ctx context.Context, r model.Router, id string, patch ProfilePatch) error {
	if !KnownID(id) {
		return &NotFoundError{RouterID: r.ID, Kind: "profile", Value: id}
	}
	args := []string{"/ppp/profile/set", "=.id=" + id}
	if patch.Name != nil {
		args = append(args, "=name="+*patch.Name)
	}
	if patch.RateLimit != nil {
		burst := ""
		if patch.BurstLimit != nil {
			burst = *patch.BurstLimit
		}
		args = append(args, "=rate-limit="+rateLimitArg(*patch.RateLimit, burst))
	}
	if patch.RemoteAddress != nil {
		args = append(args, "=remote-address="+*patch.RemoteAddress)
	}
	if len(args) == 2 {
		return nil // nothing to change
	}
	_, err := c.run(ctx, r, args...)
	return mapTrap(err, r.ID, "profile", id)
}

// ListPools returns all address pools on the router.
func (c *RouterOS) ListPools(ctx context.Context, r model.Router) ([]Pool, error) {
	reply, err := c.run(ctx, r, "/ip/pool/print", "=.proplist=.id,name,ranges,comment")
	if err != nil {
		return nil, err
	}
	pools := make([]Pool, 0, len(reply.Re))
	for _, re := range reply.Re {
		pools = append(pools, poolFromSentence(re))
	}
	return pools, nil
}

// CreatePool creates an address pool and echoes back its assigned id.
func (c *RouterOS) CreatePool(ctx context.Context, r model.Router, name, ranges, comment string) (Pool, error) {
	args := []string{"/ip/pool/add", "=name=" + name, "=ranges=" + ranges}
	if comment != "" {
		args = append(args, "=comment="+comment)
	}
	reply, err := c.run(ctx, r, args...)
	if err != nil {
		return Pool{}, mapTrap(err, r.ID, "pool", name)
	}
	return Pool{ID: returnedID(reply), Name: name, Ranges: ranges, Comment: comment}, nil
}

// UsedAddresses returns the addresses the router reports as handed out from
// the named pool.
func (c *RouterOS) UsedAddresses(ctx context.Context, r model.Router, poolName string) ([]netip.Addr, error) {
	reply, err := c.run(ctx, r, "/ip/pool/used/print",
		"?pool="+poolName, "=.proplist=address")
	if err != nil {
		return nil, err
	}
	addrs := make([]netip.Addr, 0, len(reply.Re))
	for _, re := range reply.Re {
		a, err := netip.ParseAddr(re.Map["address"])
		if err != nil {
			continue // router reported something unparsable; skip it
		}
		addrs = append(addrs, a)
	}
	return addrs, nil
}

// ListAccounts returns all PPP accounts on the router.
func (c *RouterOS) ListAccounts(ctx context.Context, r model.Router) ([]Account, error) {
	reply, err := c.run(ctx, r, "/ppp/secret/print",
		"=.proplist=.id,name,profile,remote-address,comment,disabled")
	if err != nil {
		return nil, err
	}
	accounts := make([]Account, 0, len(reply.Re))
	for _, re := range reply.Re {
		accounts = append(accounts, accountFromSentence(re))
	}
	return accounts, nil
}

// CreateAccount creates a PPP account and echoes back its assigned id.
func (c *RouterOS) CreateAccount(ctx context.Context, r model.Router, spec AccountSpec) (Account, error) {
	args := []string{
		"/ppp/secret/add",
		"=name=" + spec.Name,
		"=password=" + spec.Password,
		"=service=pppoe",
	}
	if spec.Profile != "" {
		args = append(args, "=profile="+spec.Profile)
	}
	if spec.RemoteAddress != "" {
		args = append(args, "=remote-address="+spec.RemoteAddress)
	}
	if spec.Comment != "" {
		args = append(args, "=comment="+spec.Comment)
	}
	if spec.Disabled {
		args = append(args, "=disabled=yes")
	}
	reply, err := c.run(ctx, r, args...)
	if err != nil {
		return Account{}, mapTrap(err, r.ID, "account", spec.Name)
	}
	return Account{
		ID:            returnedID(reply),
		Name:          spec.Name,
		Profile:       spec.Profile,
		RemoteAddress: spec.RemoteAddress,
		Comment:       spec.Comment,
		Disabled:      spec.Disabled,
	}, nil
}

// UpdateAccount patches a PPP account by its stable id.
func (c *RouterOS) UpdateAccount(ctx context.Context, r model.Router, id string, patch AccountPatch) error {
	if !KnownID(id) {
		return &NotFoundError{RouterID: r.ID, Kind: "account", Value: id}
	}
	args := []string{"/ppp/secret/set", "=.id=" + id}
	if patch.Password != nil {
		args = append(args, "=password="+*patch.Password)
	}
	if patch.Profile != nil {
		args = append(args, "=profile="+*patch.Profile)
	}
	if patch.RemoteAddress != nil {
		args = append(args, "=remote-address="+*patch.RemoteAddress)
	}
	if patch.Comment != nil {
		args = append(args, "=comment="+*patch.Comment)
	}
	if patch.Disabled != nil {
		args = append(args, "=disabled="+yesNo(*patch.Disabled))
	}
	if len(args) == 2 {
		return nil
	}
	_, err := c.run(ctx, r, args...)
	return mapTrap(err, r.ID, "account", id)
}

// DeleteAccount removes a PPP account by its stable id.
func (c *RouterOS) DeleteAccount(ctx context.Context, r model.Router, id string) error {
	if !KnownID(id) {
		return &NotFoundError{RouterID: r.ID, Kind: "account", Value: id}
	}
	_, err := c.run(ctx, r, "/ppp/secret/remove", "=.id="+id)
	return mapTrap(err, r.ID, "account", id)
}

// ListActiveSessions returns the live PPP sessions on the router.
func (c *RouterOS) ListActiveSessions(ctx context.Context, r model.Router) ([]Session, error) {
	reply, err := c.run(ctx, r, "/ppp/active/print",
		"=.proplist=.id,name,address,uptime,caller-id")
	if err != nil {
		return nil, err
	}
	sessions := make([]Session, 0, len(reply.Re))
	for _, re := range reply.Re {
		sessions = append(sessions, Session{
			ID:       re.Map[".id"],
			Name:     re.Map["name"],
			Address:  re.Map["address"],
			Uptime:   re.Map["uptime"],
			CallerID: re.Map["caller-id"],
		})
	}
	return sessions, nil
}

// TerminateSession drops a live PPP session by its id.
func (c *RouterOS) TerminateSession(ctx context.Context, r model.Router, id string) error {
	if !KnownID(id) {
		return &NotFoundError{RouterID: r.ID, Kind: "session", Value: id}
	}
	_, err := c.run(ctx, r, "/ppp/active/remove", "=.id="+id)
	return mapTrap(err, r.ID, "session", id)
}

// --- sentence parsing ---

func profileFromSentence(re *proto.Sentence) Profile {
	rate, burst := splitRateLimit(re.Map["rate-limit"])
	return Profile{
		ID:            re.Map[".id"],
		Name:          re.Map["name"],
		RateLimit:     rate,
		BurstLimit:    burst,
		LocalAddress:  re.Map["local-address"],
		RemoteAddress: re.Map["remote-address"],
	}
}

func poolFromSentence(re *proto.Sentence) Pool {
	return Pool{
		ID:      re.Map[".id"],
		Name:    re.Map["name"],
		Ranges:  re.Map["ranges"],
		Comment: re.Map["comment"],
	}
}

func accountFromSentence(re *proto.Sentence) Account {
	return Account{
		ID:            re.Map[".id"],
		Name:          re.Map["name"],
		Profile:       re.Map["profile"],
		RemoteAddress: re.Map["remote-address"],
		Comment:       re.Map["comment"],
		Disabled:      parseBool(re.Map["disabled"]),
	}
}

// rateLimitArg joins rate and burst into the router's rate-limit syntax
// ("rx/tx [burst-rx/burst-tx]").
func rateLimitArg(rate, burst string) string {
	if burst == "" {
		return rate
	}
	return rate + " " + burst
}

// splitRateLimit splits a reported rate-limit into the base rate and the
// burst portion, if present.
func splitRateLimit(s string) (rate, burst string) {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return "", ""
	}
	if len(fields) == 1 {
		return fields[0], ""
	}
	return fields[0], strings.Join(fields[1:], " ")
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "true", "yes":
		return true
	}
	return false
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

// mapTrap translates router trap messages into typed errors where the
// message is unambiguous. Anything else passes through unchanged.
func mapTrap(err error, routerID, kind, value string) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such item"):
		return &NotFoundError{RouterID: routerID, Kind: kind, Value: value}
	case strings.Contains(msg, "already have"), strings.Contains(msg, "already exists"):
		return &AlreadyExistsError{RouterID: routerID, Kind: kind, Value: value}
	}
	return err
}
