package mockconsole

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

const masked = "******"

// secretFields are never echoed back in clear.
var secretFields = map[string]bool{
	"secret_access_key":    true,
	"smtp_password":        true,
	"kuaidaili_secret_key": true,
	"kuaidaili_api_key":    true,
}

func (c *Console) configRoutes(r chi.Router) {
	r.Get("/feature-flags", c.getFlags)
	r.Put("/feature-flags/{name}", c.setFlag)

	r.Get("/s3", c.getSection(func() map[string]any { return c.s3 }))
	r.Put("/s3", c.putSection(func() map[string]any { return c.s3 }, "s3_enabled"))
	r.Post("/s3/test", c.testSection(func() map[string]any { return c.s3 }, "bucket_name", "S3"))

	r.Get("/email", c.getSection(func() map[string]any { return c.email }))
	r.Put("/email", c.putSection(func() map[string]any { return c.email }, "email_enabled"))
	r.Post("/email/test", c.testSection(func() map[string]any { return c.email }, "smtp_host", "SMTP"))
	r.Post("/email/send-test", c.sendTestEmail)

	r.Get("/data-sources", c.dataSources)

	r.Get("/crawler", c.getSection(func() map[string]any { return c.crawler }))
	r.Put("/crawler", c.putSection(func() map[string]any { return c.crawler }, ""))
	r.Post("/crawler/test-kdl", c.testProxy)
}

func (c *Console) getFlags(w http.ResponseWriter, _ *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	render(w, http.StatusOK, c.flagsView())
}

func (c *Console) flagsView() map[string]bool {
	out := make(map[string]bool, len(c.flags))
	for k, v := range c.flags {
		out[k] = v
	}
	return out
}

func (c *Console) setFlag(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var in struct {
		Enabled *bool `json:"enabled"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.Enabled == nil {
		invalid(w, []string{"body", "enabled"}, "field required")
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.flags[name]; !ok {
		fail(w, http.StatusNotFound, "Unknown feature flag: "+name)
		return
	}
	c.flags[name] = *in.Enabled
	render(w, http.StatusOK, c.flagsView())
}

func (c *Console) getSection(section func() map[string]any) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		c.mu.Lock()
		defer c.mu.Unlock()
		render(w, http.StatusOK, maskSecrets(section()))
	}
}

// putSection merges the body into the section. When flag is set, the
// section's "enabled" value is mirrored into that feature flag.
func (c *Console) putSection(section func() map[string]any, flag string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		if !decode(w, r, &in) {
			return
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		s := section()
		for k, v := range in {
			if v == nil || v == masked {
				continue
			}
			s[k] = v
		}
		if enabled, ok := s["enabled"].(bool); ok && flag != "" {
			c.flags[flag] = enabled
		}
		render(w, http.StatusOK, maskSecrets(s))
	}
}

func (c *Console) testSection(section func() map[string]any, required, label string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var in map[string]any
		if !decode(w, r, &in) {
			return
		}

		c.mu.Lock()
		v, _ := section()[required].(string)
		c.mu.Unlock()
		if s, ok := in[required].(string); ok && s != "" {
			v = s
		}

		if v == "" {
			render(w, http.StatusOK, map[string]any{"success": false, "message": label + " is not configured"})
			return
		}
		render(w, http.StatusOK, map[string]any{"success": true, "message": label + " connection succeeded"})
	}
}

func (c *Console) sendTestEmail(w http.ResponseWriter, r *http.Request) {
	var in struct {
		ToAddress string         `json:"to_address"`
		Config    map[string]any `json:"config"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.ToAddress == "" {
		invalid(w, []string{"body", "to_address"}, "field required")
		return
	}

	c.mu.Lock()
	host, _ := c.email["smtp_host"].(string)
	c.mu.Unlock()
	if s, ok := in.Config["smtp_host"].(string); ok && s != "" {
		host = s
	}
	if host == "" {
		render(w, http.StatusOK, map[string]any{"success": false, "message": "SMTP is not configured"})
		return
	}
	render(w, http.StatusOK, map[string]any{"success": true, "message": "Test email sent to " + in.ToAddress})
}

// emailState reports availability, enablement and configuration of mail.
func (c *Console) emailState() (available, enabled, configured bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	enabled = c.flags["email_enabled"]
	host, _ := c.email["smtp_host"].(string)
	from, _ := c.email["from_address"].(string)
	configured = host != "" && from != ""
	return enabled && configured, enabled, configured
}

func (c *Console) emailAvailable(w http.ResponseWriter, _ *http.Request) {
	available, enabled, configured := c.emailState()
	render(w, http.StatusOK, map[string]any{
		"available":  available,
		"enabled":    enabled,
		"configured": configured,
	})
}

func (c *Console) dataSources(w http.ResponseWriter, _ *http.Request) {
	c.mu.Lock()
	defer c.mu.Unlock()
	render(w, http.StatusOK, map[string]any{"data_sources": c.sources})
}

func (c *Console) testProxy(w http.ResponseWriter, r *http.Request) {
	var in struct {
		SecretID  string `json:"secret_id"`
		SecretKey string `json:"secret_key"`
	}
	if !decode(w, r, &in) {
		return
	}
	if in.SecretID == "" || in.SecretKey == "" {
		render(w, http.StatusOK, map[string]any{"success": false, "message": "secret_id and secret_key are required"})
		return
	}
	render(w, http.StatusOK, map[string]any{"success": true, "message": "Proxy credentials are valid"})
}

func maskSecrets(in map[string]any) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if s, ok := v.(string); ok && s != "" && secretFields[k] {
			v = masked
		}
		out[k] = v
	}
	return out
}
