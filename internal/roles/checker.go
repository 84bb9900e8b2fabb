package roles

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/dreyhq/drey/internal/cluster"
	"github.com/dreyhq/drey/pkg/apierr"
)

// Service is the group service the checker consults. GroupRoles returns a
// group's custom role set; MemberRoles returns the member's canonical
// identity alongside the role names it holds in the group.
type Service interface {
	GroupRoles(ctx context.Context, group string) ([]Role, error)
	MemberRoles(ctx context.Context, group, member string) (identity string, roleNames []string, err error)
}

// Checker evaluates whether a caller may perform an action within a group.
type Checker struct {
	service Service
}

// NewChecker builds a checker over the given group service.
func NewChecker(service Service) *Checker {
	return &Checker{service: service}
}

// Check runs both lookups concurrently and evaluates the action. The
// member lookup returns the identity the group service has on file; a
// mismatch with the asserted caller is rejected as spoofing before any
// permission is considered. The action is evaluated against the union of
// the group's custom roles and the defaults; any matching role granting
// the action is enough.
func (c *Checker) Check(ctx context.Context, caller, group string, action Action) error {
	var (
		groupRoles  []Role
		memberID    string
		memberRoles []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		groupRoles, err = c.service.GroupRoles(gctx, group)
		if err != nil {
			return fmt.Errorf("group role lookup failed: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		var err error
		memberID, memberRoles, err = c.service.MemberRoles(gctx, group, caller)
		if err != nil {
			return fmt.Errorf("member role lookup failed: %w", err)
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return apierr.Convert(err, "ROLE_LOOKUP_FAILED", "", "")
	}

	if memberID != caller {
		return apierr.Unauthorized("PRINCIPAL_MISMATCH",
			fmt.Sprintf("caller %s does not match member identity %s", caller, memberID))
	}

	if !HasPermission(memberRoles, append(groupRoles, DefaultRoles()...), action) {
		return apierr.Unauthorized("NO_PERMISSION",
			fmt.Sprintf("caller %s lacks %s permission in group %s", caller, action, group))
	}
	return nil
}

// HTTPService resolves roles from a remote group service over JSON HTTP.
type HTTPService struct {
	addr   string
	caller string
}

// NewHTTPService builds a group service client rooted at addr, asserting
// the shard's own identity as caller.
func NewHTTPService(addr, caller string) *HTTPService {
	return &HTTPService{addr: addr, caller: caller}
}

// GroupRoles fetches the custom role set of a group.
func (s *HTTPService) GroupRoles(ctx context.Context, group string) ([]Role, error) {
	var out []Role
	if err := cluster.GetJSON(ctx, fmt.Sprintf("%s/groups/%s/roles", s.addr, group), s.caller, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// memberResponse is the group service's membership record.
type memberResponse struct {
	Identity string   `json:"identity"`
	Roles    []string `json:"roles"`
}

// MemberRoles fetches a member's identity and role names within a group.
func (s *HTTPService) MemberRoles(ctx context.Context, group, member string) (string, []string, error) {
	var out memberResponse
	if err := cluster.GetJSON(ctx, fmt.Sprintf("%s/groups/%s/members/%s", s.addr, group, member), s.caller, &out); err != nil {
		return "", nil, err
	}
	return out.Identity, out.Roles, nil
}
