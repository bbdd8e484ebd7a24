// Package cookie adapts a single HTTP exchange to a simple cookie store.
package cookie

import (
	"net/http"
	"time"
)

// Jar reads cookies from a request and writes them to its response. Writes
// are visible to later reads within the same request.
type Jar struct {
	w       http.ResponseWriter
	r       *http.Request
	overlay map[string]*string
}

// NewJar binds a Jar to one request/response pair.
func NewJar(w http.ResponseWriter, r *http.Request) *Jar {
	return &Jar{w: w, r: r, overlay: make(map[string]*string)}
}

// Exists reports whether the named cookie is present.
func (j *Jar) Exists(name string) bool {
	_, ok := j.Get(name)
	return ok
}

// Get returns the value of the named cookie.
func (j *Jar) Get(name string) (string, bool) {
	if v, ok := j.overlay[name]; ok {
		if v == nil {
			return "", false
		}
		return *v, true
	}
	c, err := j.r.Cookie(name)
	if err != nil {
		return "", false
	}
	return c.Value, true
}

// Put sets the named cookie for ttl.
func (j *Jar) Put(name, value string, ttl time.Duration) {
	http.SetCookie(j.w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   j.r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(ttl / time.Second),
		Expires:  time.Now().Add(ttl),
	})
	j.overlay[name] = &value
}

// Delete expires the named cookie.
func (j *Jar) Delete(name string) {
	http.SetCookie(j.w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   j.r.TLS != nil,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
		Expires:  time.Unix(0, 0),
	})
	j.overlay[name] = nil
}
