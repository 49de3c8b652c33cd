package protocol

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// DefaultNamespace is the proto package root every service lives under.
	DefaultNamespace = "microservice"
	// HealthCheckMethod is the unary RPC probed on every instance.
	HealthCheckMethod = "healthCheck"
	// TagField is the reply field carrying the instance identity tag.
	TagField = "msServiceTag"
)

// PackageID derives the proto package from a logical service name: the part
// before the first '-' (the whole name when there is none), with "_x"
// sequences folded to camelCase.
func PackageID(serviceName string) string {
	prefix, _, _ := strings.Cut(serviceName, "-")
	return underscoreToCamel(prefix)
}

// TypeName upper-cases the first rune of a package id.
func TypeName(pkg string) string {
	r, size := utf8.DecodeRuneInString(pkg)
	if size == 0 {
		return ""
	}
	return string(unicode.ToUpper(r)) + pkg[size:]
}

// FullServiceName returns "<namespace>.<pkg>.<Type>".
func FullServiceName(namespace, pkg string) string {
	if namespace == "" {
		return pkg + "." + TypeName(pkg)
	}
	return namespace + "." + pkg + "." + TypeName(pkg)
}

// MethodPath returns the gRPC path of method on fullService.
func MethodPath(fullService, method string) string {
	return "/" + fullService + "/" + method
}

// only an underscore followed by a lowercase ASCII letter is folded
func underscoreToCamel(s string) string {
	if !strings.Contains(s, "_") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '_' && i+1 < len(s) && s[i+1] >= 'a' && s[i+1] <= 'z' {
			b.WriteByte(s[i+1] - ('a' - 'A'))
			i++
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}
