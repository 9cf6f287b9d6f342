// File: internal/infra/adapters/payment/signer.go
package payment

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

const (
	tokenField    = "Token"
	passwordField = "Password"
)

// Fields is the flat key/value view of a gateway message that takes part in signing.
type Fields map[string]any

// Sign computes the gateway token for fields with the terminal password as secret.
//
// Token, nil values and nested objects are excluded. Password is added, keys are sorted
// byte-wise, the values are concatenated without separators and the result is hashed
// with SHA-256 (lowercase hex).
func Sign(fields Fields, secret string) string {
	pairs := make(map[string]string, len(fields)+1)
	for k, v := range fields {
		if k == tokenField || k == passwordField {
			continue
		}
		s, ok := stringify(v)
		if !ok {
			continue
		}
		pairs[k] = s
	}
	pairs[passwordField] = secret

	keys := make([]string, 0, len(pairs))
	for k := range pairs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		b.WriteString(pairs[k])
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Verify reports whether token matches the signature of fields.
func Verify(fields Fields, secret, token string) bool {
	if token == "" {
		return false
	}
	want := Sign(fields, secret)
	return subtle.ConstantTimeCompare([]byte(want), []byte(strings.ToLower(token))) == 1
}

// stringify renders a scalar the way the gateway does. ok=false means "leave it out".
func stringify(v any) (string, bool) {
	switch t := v.(type) {
	case nil:
		return "", false
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case json.Number:
		return t.String(), true
	case int:
		return strconv.FormatInt(int64(t), 10), true
	case int32:
		return strconv.FormatInt(int64(t), 10), true
	case int64:
		return strconv.FormatInt(t, 10), true
	case uint:
		return strconv.FormatUint(uint64(t), 10), true
	case uint32:
		return strconv.FormatUint(uint64(t), 10), true
	case uint64:
		return strconv.FormatUint(t, 10), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer || rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return "", false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Map, reflect.Struct:
		return "", false
	case reflect.String:
		return rv.String(), true
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), true
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, 64), true
	}

	b, err := json.Marshal(rv.Interface())
	if err != nil {
		return "", false
	}
	return string(b), true
}
