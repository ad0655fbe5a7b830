package decision

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"sort"

	"github.com/ppiankov/vigil/internal/config"
)

// ApprovalMessage builds the canonical message an approver signs. The
// exact format is a wire-compatibility contract with deployed signers:
// changing it invalidates every issued token.
func ApprovalMessage(eventID, domain, action, tenant string) string {
	return fmt.Sprintf("%s:%s:%s:%s", eventID, domain, action, tenant)
}

// SignToken produces the approval token for a message under an approver
// secret: urlsafe base64 (no padding) of HMAC-SHA256(secret, message).
func SignToken(secret, message string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(message))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// resolver verifies active-approver tokens against registered approver
// secrets and decides whether a sign-off threshold is met.
type resolver struct {
	approvers map[string]config.Approver
	active    []config.ActiveApprover
}

func newResolver(cfg config.RBACConfig) *resolver {
	byID := make(map[string]config.Approver, len(cfg.Approvers))
	for _, a := range cfg.Approvers {
		byID[a.ID] = a
	}
	return &resolver{approvers: byID, active: cfg.ActiveApprovers}
}

// verifySigners checks every active approver's token for the given message
// and returns the distinct valid signer ids plus the union of their roles.
func (r *resolver) verifySigners(message string) (signers []string, roles map[string]bool) {
	roles = make(map[string]bool)
	seen := make(map[string]bool)

	for _, active := range r.active {
		if seen[active.ID] {
			continue
		}
		approver, ok := r.approvers[active.ID]
		if !ok || approver.Secret == "" {
			continue
		}
		expected := SignToken(approver.Secret, message)
		if !hmac.Equal([]byte(expected), []byte(active.Token)) {
			continue
		}
		seen[active.ID] = true
		signers = append(signers, active.ID)
		for _, role := range approver.Roles {
			roles[role] = true
		}
	}

	sort.Strings(signers)
	return signers, roles
}

// rolesSatisfied reports whether the signer role union covers required.
func rolesSatisfied(roles map[string]bool, required []string) bool {
	for _, role := range required {
		if !roles[role] {
			return false
		}
	}
	return true
}
