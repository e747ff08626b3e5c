// Package policyopa evaluates entitlement checks against a Rego bundle.
// The bundle decides whether a validated license may use a feature,
// beyond the static entitlement table.
package policyopa

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/open-policy-agent/opa/ast"
	"github.com/open-policy-agent/opa/rego"

	"keystone/internal/domain"
	"keystone/internal/usecase"
)

const defaultQuery = "data.keystone.entitlement.result"

// Policies must be pure functions of their input: no network, clock,
// randomness, or runtime introspection.
var forbiddenBuiltins = map[string]struct{}{
	"http.send":                         {},
	"net.lookup_ip_addr":                {},
	"opa.runtime":                       {},
	"rand.intn":                         {},
	"time.now_ns":                       {},
	"uuid.rfc4122":                      {},
	"rego.parse_module":                 {},
	"trace":                             {},
	"net.cidr_expand":                   {},
	"crypto.x509.parse_rsa_private_key": {},
}

type Engine struct {
	query      rego.PreparedEvalQuery
	bundleHash string
	bundleID   string
}

var _ usecase.EntitlementPolicy = (*Engine)(nil)

// NewEngineFromBundlePath compiles the bundle at bundlePath and prepares
// the entitlement query. The bundle hash pins exactly which policy text
// produced each decision.
func NewEngineFromBundlePath(ctx context.Context, bundlePath, bundleID string) (*Engine, error) {
	bundleHash, err := ComputeBundleHashFromPath(bundlePath)
	if err != nil {
		return nil, err
	}

	capabilities := ast.CapabilitiesForThisVersion()
	capabilities.Builtins = filterBuiltins(capabilities.Builtins)
	compiler := ast.NewCompiler().WithCapabilities(capabilities)

	r := rego.New(
		rego.Query(defaultQuery),
		rego.Compiler(compiler),
		rego.StrictBuiltinErrors(true),
		rego.Load([]string{bundlePath}, nil),
	)
	prepared, err := r.PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}
	if err := assertNoForbiddenBuiltins(compiler); err != nil {
		return nil, err
	}

	return &Engine{query: prepared, bundleHash: bundleHash, bundleID: bundleID}, nil
}

func (e *Engine) BundleHash() string {
	return e.bundleHash
}

func (e *Engine) BundleID() string {
	return e.bundleID
}

// Evaluate runs the entitlement query. A bundle that yields no result
// document is an error, not a deny, so broken policies fail loudly.
func (e *Engine) Evaluate(ctx context.Context, input domain.PolicyInput) (domain.PolicyDecision, error) {
	if e == nil {
		return domain.PolicyDecision{}, errors.New("policy engine is nil")
	}
	results, err := e.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return domain.PolicyDecision{}, err
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return domain.PolicyDecision{}, errors.New("empty policy result")
	}
	return decodeDecision(results[0].Expressions[0].Value)
}

func decodeDecision(value any) (domain.PolicyDecision, error) {
	payload, err := json.Marshal(value)
	if err != nil {
		return domain.PolicyDecision{}, err
	}
	var decision domain.PolicyDecision
	if err := json.Unmarshal(payload, &decision); err != nil {
		return domain.PolicyDecision{}, err
	}
	return decision, nil
}

func filterBuiltins(builtins []*ast.Builtin) []*ast.Builtin {
	kept := make([]*ast.Builtin, 0, len(builtins))
	for _, builtin := range builtins {
		if builtin == nil {
			continue
		}
		if _, banned := forbiddenBuiltins[builtin.Name]; banned {
			continue
		}
		kept = append(kept, builtin)
	}
	return kept
}

func assertNoForbiddenBuiltins(compiler *ast.Compiler) error {
	if compiler == nil {
		return errors.New("policy compiler is nil")
	}
	found := make(map[string]struct{})
	for _, module := range compiler.Modules {
		ast.WalkTerms(module, func(term *ast.Term) bool {
			call, ok := term.Value.(ast.Call)
			if !ok || len(call) == 0 || call[0] == nil {
				return false
			}
			name := call[0].Value.String()
			if _, banned := forbiddenBuiltins[name]; banned {
				found[name] = struct{}{}
			}
			return false
		})
	}
	if len(found) == 0 {
		return nil
	}
	names := make([]string, 0, len(found))
	for name := range found {
		names = append(names, name)
	}
	sort.Strings(names)
	return fmt.Errorf("forbidden builtins: %s", strings.Join(names, ", "))
}
