package mockconsole

import (
	"context"
	"crypto/rand"
	"math/big"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"
)

type ctxKey int

const userKey ctxKey = iota

func withUser(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, userKey, username)
}

func userFrom(ctx context.Context) string {
	s, _ := ctx.Value(userKey).(string)
	return s
}

func (c *Console) login(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if !decode(w, r, &in) {
		return
	}

	c.mu.Lock()
	u, ok := c.users[in.Username]
	c.mu.Unlock()
	if !ok || bcrypt.CompareHashAndPassword(u.hash, []byte(in.Password)) != nil {
		fail(w, http.StatusUnauthorized, "Incorrect username or password")
		return
	}
	if !u.active {
		fail(w, http.StatusBadRequest, "Inactive user")
		return
	}
	c.issue(w, u.username)
}

func (c *Console) refresh(w http.ResponseWriter, r *http.Request) {
	c.issue(w, userFrom(r.Context()))
}

func (c *Console) issue(w http.ResponseWriter, username string) {
	render(w, http.StatusOK, map[string]any{
		"access_token": c.IssueToken(username, c.opts.TokenTTL),
		"token_type":   "bearer",
	})
}

func (c *Console) me(w http.ResponseWriter, r *http.Request) {
	c.mu.Lock()
	u := c.users[userFrom(r.Context())]
	c.mu.Unlock()

	render(w, http.StatusOK, map[string]any{
		"id":         u.id,
		"username":   u.username,
		"email":      u.email,
		"is_active":  u.active,
		"created_at": stamp(u.created),
	})
}

func (c *Console) changePassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		OldPassword string `json:"old_password"`
		NewPassword string `json:"new_password"`
	}
	if !decode(w, r, &in) {
		return
	}

	c.mu.Lock()
	u := c.users[userFrom(r.Context())]
	c.mu.Unlock()
	if bcrypt.CompareHashAndPassword(u.hash, []byte(in.OldPassword)) != nil {
		fail(w, http.StatusBadRequest, "Incorrect old password")
		return
	}
	if !c.setPassword(w, u, in.NewPassword) {
		return
	}
	render(w, http.StatusOK, map[string]any{"success": true, "message": "Password changed"})
}

func (c *Console) resetPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		NewPassword string `json:"new_password"`
	}
	if !decode(w, r, &in) {
		return
	}

	c.mu.Lock()
	u := c.users[userFrom(r.Context())]
	c.mu.Unlock()
	if !c.setPassword(w, u, in.NewPassword) {
		return
	}
	render(w, http.StatusOK, map[string]any{"success": true, "message": "Password reset"})
}

func (c *Console) generatePassword(w http.ResponseWriter, r *http.Request) {
	length := 12
	if raw := r.URL.Query().Get("length"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 8 || n > 32 {
			invalid(w, []string{"query", "length"}, "ensure this value is between 8 and 32")
			return
		}
		length = n
	}

	pw := randomPassword(length)
	c.mu.Lock()
	u := c.users[userFrom(r.Context())]
	c.mu.Unlock()
	if !c.setPassword(w, u, pw) {
		return
	}
	render(w, http.StatusOK, map[string]any{
		"success":      true,
		"message":      "Password generated",
		"new_password": pw,
	})
}

func (c *Console) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Username string `json:"username"`
	}
	if !decode(w, r, &in) {
		return
	}

	if avail, _, _ := c.emailState(); !avail {
		fail(w, http.StatusBadRequest, "Email service is not available")
		return
	}
	// Unknown accounts get the same answer.
	render(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "If the account exists, a new password has been sent",
	})
}

func (c *Console) setPassword(w http.ResponseWriter, u *user, pw string) bool {
	if len(pw) < 6 {
		fail(w, http.StatusBadRequest, "Password must be at least 6 characters")
		return false
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pw), bcrypt.MinCost)
	if err != nil {
		fail(w, http.StatusInternalServerError, err.Error())
		return false
	}
	c.mu.Lock()
	u.hash = hash
	c.mu.Unlock()
	return true
}

const passwordAlphabet = "abcdefghijkmnopqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ23456789"

func randomPassword(n int) string {
	out := make([]byte, n)
	for i := range out {
		k, err := rand.Int(rand.Reader, big.NewInt(int64(len(passwordAlphabet))))
		if err != nil {
			panic(err)
		}
		out[i] = passwordAlphabet[k.Int64()]
	}
	return string(out)
}
