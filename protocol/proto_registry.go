package protocol

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/jhump/protoreflect/desc/protoparse"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"

	"github.com/kbukum/meshprobe/errors"
)

// ProtoRegistry resolves package ids by parsing .proto files under Root.
// Files maps a package id to its file path relative to Root. Parsed
// descriptors are cached per package; parse failures are not.
type ProtoRegistry struct {
	Root      string
	Files     map[string]string
	Namespace string

	mu    sync.Mutex
	cache map[string]Descriptor
}

var _ Registry = (*ProtoRegistry)(nil)

// NewProtoRegistry creates a ProtoRegistry. An empty namespace means
// DefaultNamespace.
func NewProtoRegistry(root string, files map[string]string, namespace string) *ProtoRegistry {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &ProtoRegistry{Root: root, Files: files, Namespace: namespace}
}

// Packages lists the configured package ids, sorted.
func (r *ProtoRegistry) Packages() []string {
	out := make([]string, 0, len(r.Files))
	for p := range r.Files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Lookup parses the file configured for pkg and locates its healthCheck
// method.
func (r *ProtoRegistry) Lookup(pkg string) (Descriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d, ok := r.cache[pkg]; ok {
		return d, nil
	}

	d, err := r.load(pkg)
	if err != nil {
		return Descriptor{}, err
	}
	if r.cache == nil {
		r.cache = make(map[string]Descriptor)
	}
	r.cache[pkg] = d
	return d, nil
}

// Preload resolves every configured package, failing on the first error.
func (r *ProtoRegistry) Preload() error {
	for _, pkg := range r.Packages() {
		if _, err := r.Lookup(pkg); err != nil {
			return err
		}
	}
	return nil
}

func (r *ProtoRegistry) load(pkg string) (Descriptor, error) {
	file, ok := r.Files[pkg]
	if !ok {
		return Descriptor{}, configErr(pkg, "no proto file configured for package %s", pkg)
	}

	parser := protoparse.Parser{ImportPaths: []string{r.Root}}
	fds, err := parser.ParseFiles(file)
	if err != nil {
		return Descriptor{}, configErr(pkg, "parse %s: %v", file, err).WithCause(err)
	}

	ns := r.Namespace
	if ns == "" {
		ns = DefaultNamespace
	}
	fullService := FullServiceName(ns, pkg)
	svc := fds[0].FindService(fullService)
	if svc == nil {
		return Descriptor{}, configErr(pkg, "service %s not found in %s", fullService, file)
	}
	md := svc.FindMethodByName(HealthCheckMethod)
	if md == nil {
		return Descriptor{}, configErr(pkg, "method %s.%s not found in %s", fullService, HealthCheckMethod, file)
	}

	method := md.UnwrapMethod()
	tagField := method.Output().Fields().ByName(TagField)
	if tagField == nil || tagField.Kind() != protoreflect.StringKind {
		return Descriptor{}, configErr(pkg, "%s reply has no string field %s", method.FullName(), TagField)
	}

	path := MethodPath(fullService, HealthCheckMethod)
	return Descriptor{
		Package: pkg,
		Service: fullService,
		NewClient: func(cc grpc.ClientConnInterface) HealthChecker {
			return &dynamicStub{cc: cc, path: path, method: method, tag: tagField}
		},
	}, nil
}

func configErr(pkg, format string, args ...any) *errors.AppError {
	return errors.Configuration(fmt.Sprintf(format, args...)).WithDetail("package", pkg)
}

// dynamicStub invokes healthCheck with messages built from the parsed
// descriptor.
type dynamicStub struct {
	cc     grpc.ClientConnInterface
	path   string
	method protoreflect.MethodDescriptor
	tag    protoreflect.FieldDescriptor
}

func (s *dynamicStub) HealthCheck(ctx context.Context) (string, error) {
	in := dynamicpb.NewMessage(s.method.Input())
	out := dynamicpb.NewMessage(s.method.Output())
	if err := s.cc.Invoke(ctx, s.path, in, out); err != nil {
		return "", err
	}
	return out.Get(s.tag).String(), nil
}
