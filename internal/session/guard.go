package session

import (
	"net/http"
	"net/url"

	"github.com/go-chi/chi/v5"
)

// Route is one navigable view.
type Route struct {
	Path         string
	Name         string
	RequiresAuth bool

	// Redirect, when set, sends the user elsewhere before any auth check.
	Redirect string
}

// ConsoleRoutes is the view table of the console.
func ConsoleRoutes() []Route {
	return []Route{
		{Path: "/login", Name: "Login"},
		{Path: "/", Name: "Home", Redirect: "/policies"},
		{Path: "/policies", Name: "Policies", RequiresAuth: true},
		{Path: "/policies/{id}", Name: "PolicyDetail", RequiresAuth: true},
		{Path: "/tasks", Name: "Tasks", RequiresAuth: true},
		{Path: "/scheduled-tasks", Name: "ScheduledTasks", RequiresAuth: true},
		{Path: "/settings", Name: "Settings", RequiresAuth: true},
		{Path: "/backups", Name: "Backups", RequiresAuth: true},
	}
}

// Authenticator is the part of Session the guard consults.
type Authenticator interface {
	Authenticated() bool
}

// Decision is the outcome of admitting a navigation target.
type Decision struct {
	// Allow is true when the view may render.
	Allow bool

	// Redirect is the location to go to instead. Empty when allowed or when
	// no route matched.
	Redirect string

	// Route is the matched route; zero when Found is false.
	Route Route
	Found bool

	// Params holds path parameters, e.g. {"id": "42"} for /policies/{id}.
	Params map[string]string
}

// GuardOptions configures a Guard.
type GuardOptions struct {
	LoginPath   string
	LandingPath string
}

// Guard decides, before a view renders, whether the session may see it.
type Guard struct {
	auth        Authenticator
	mux         *chi.Mux
	routes      map[string]Route
	loginPath   string
	landingPath string
}

// NewGuard builds a Guard over routes.
func NewGuard(auth Authenticator, routes []Route, opts GuardOptions) *Guard {
	if opts.LoginPath == "" {
		opts.LoginPath = DefaultLoginPath
	}
	if opts.LandingPath == "" {
		opts.LandingPath = DefaultLandingPath
	}

	g := &Guard{
		auth:        auth,
		mux:         chi.NewRouter(),
		routes:      make(map[string]Route, len(routes)),
		loginPath:   opts.LoginPath,
		landingPath: opts.LandingPath,
	}
	// The mux is used for pattern matching only; handlers never run.
	noop := http.HandlerFunc(func(http.ResponseWriter, *http.Request) {})
	for _, r := range routes {
		g.mux.Get(r.Path, noop)
		g.routes[r.Path] = r
	}
	return g
}

// Admit decides on target, a location such as /policies/3?tab=files.
//
// An authenticated-only view without a session redirects to the login view
// carrying the full target, so the user comes back to it after logging in.
// A live session asking for the login view goes to the landing view.
func (g *Guard) Admit(target string) Decision {
	u, err := url.Parse(target)
	if err != nil {
		return Decision{}
	}
	path := u.Path
	if path == "" {
		path = "/"
	}

	rctx := chi.NewRouteContext()
	if !g.mux.Match(rctx, http.MethodGet, path) {
		return Decision{}
	}
	route, ok := g.routes[rctx.RoutePattern()]
	if !ok {
		return Decision{}
	}

	d := Decision{Route: route, Found: true, Params: map[string]string{}}
	for i, k := range rctx.URLParams.Keys {
		d.Params[k] = rctx.URLParams.Values[i]
	}

	authenticated := g.auth.Authenticated()
	switch {
	case route.Redirect != "":
		d.Redirect = route.Redirect
	case route.RequiresAuth && !authenticated:
		d.Redirect = LoginRedirect(g.loginPath, target)
	case route.Path == g.loginPath && authenticated:
		d.Redirect = g.landingPath
	default:
		d.Allow = true
	}
	return d
}

// PostLogin returns where to go after a successful login from the login
// location current: the remembered redirect target, or the landing view.
func (g *Guard) PostLogin(current string) string {
	u, err := url.Parse(current)
	if err != nil {
		return g.landingPath
	}
	if to := u.Query().Get("redirect"); to != "" && pathOf(to) != g.loginPath {
		return to
	}
	return g.landingPath
}
