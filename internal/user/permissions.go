package user

import "encoding/json"

// Permissions maps permission keys to whether they are granted.
type Permissions map[string]bool

// ParsePermissions decodes a JSON object of permission flags. Values that are
// not booleans count as not granted; an undecodable payload grants nothing.
func ParsePermissions(raw string) Permissions {
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Permissions{}
	}
	perms := make(Permissions, len(doc))
	for key, val := range doc {
		var granted bool
		if err := json.Unmarshal(val, &granted); err == nil {
			perms[key] = granted
		}
	}
	return perms
}

// Has reports whether key is granted.
func (p Permissions) Has(key string) bool {
	return p[key]
}
