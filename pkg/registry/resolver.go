package registry

import (
	"fmt"
	"strings"

	"github.com/homesteadops/homestead/pkg/engine"
)

// Resolver answers dependency-order questions over an immutable catalog. It
// builds its index once at construction; concurrent readers need no locking.
type Resolver struct {
	// apps maps id to the catalog entry.
	apps map[string]*App

	// order maps id to its catalog declaration position. Ties among
	// independent dependencies resolve in declaration order.
	order map[string]int

	// companions maps bundle name to the members flagged required_by_all_apps,
	// in declaration order.
	companions map[string][]string
}

// NewResolver indexes a validated catalog.
func NewResolver(catalog *Catalog) *Resolver {
	r := &Resolver{
		apps:       make(map[string]*App, len(catalog.Apps)),
		order:      make(map[string]int, len(catalog.Apps)),
		companions: make(map[string][]string),
	}
	for i := range catalog.Apps {
		app := &catalog.Apps[i]
		r.apps[app.ID] = app
		r.order[app.ID] = i
		if app.RequiredByAllApps {
			for _, component := range app.Components {
				r.companions[component] = append(r.companions[component], app.ID)
			}
		}
	}
	return r
}

// Has reports whether an app id exists in the catalog.
func (r *Resolver) Has(appID string) bool {
	_, ok := r.apps[appID]
	return ok
}

// ResolveDependencies produces the ordered install plan for an app: all
// direct and transitive dependencies, bundle-mandatory companions, and the
// app itself, with dependencies listed before dependents and no id repeated.
func (r *Resolver) ResolveDependencies(appID string) ([]string, error) {
	if !r.Has(appID) {
		return nil, engine.NewNotFoundError("app", appID)
	}

	visited := make(map[string]bool)
	onStack := make(map[string]bool)
	var plan []string

	if err := r.visit(appID, visited, onStack, nil, &plan); err != nil {
		return nil, err
	}

	// Bundle semantics: membership anywhere in the plan pulls in every
	// required_by_all_apps member of that bundle.
	for _, id := range plan {
		for _, component := range r.apps[id].Components {
			for _, companion := range r.companions[component] {
				if !visited[companion] {
					if err := r.visit(companion, visited, onStack, nil, &plan); err != nil {
						return nil, err
					}
				}
			}
		}
	}

	return plan, nil
}

// visit performs a depth-first post-order traversal, appending each node
// after its dependencies. path is the current recursion stack, used to name
// the cycle when one is found.
func (r *Resolver) visit(appID string, visited, onStack map[string]bool, path []string, plan *[]string) error {
	app, ok := r.apps[appID]
	if !ok {
		return engine.NewNotFoundError("app", appID)
	}

	visited[appID] = true
	onStack[appID] = true
	path = append(path, appID)

	for _, dep := range app.Dependencies {
		if onStack[dep] {
			cycle := cyclePath(path, dep)
			return engine.NewError(engine.ErrCodeCircularDependency,
				fmt.Sprintf("circular dependency detected: %s", strings.Join(cycle, " -> ")), nil).
				WithTarget(appID)
		}
		if !visited[dep] {
			if err := r.visit(dep, visited, onStack, path, plan); err != nil {
				return err
			}
		}
	}

	onStack[appID] = false
	*plan = append(*plan, appID)
	return nil
}

// cyclePath trims the recursion stack to the cycle and closes the loop.
func cyclePath(path []string, start string) []string {
	for i, id := range path {
		if id == start {
			return append(append([]string{}, path[i:]...), start)
		}
	}
	return append(path, start)
}

// ResolveRemovalOrder produces the safe teardown order for an app given the
// set of applications still deployed on the server: the reverse of install
// order, restricted to apps no surviving deployment still requires. Removal
// of an app another deployment depends on fails with a dependents error
// unless force is set; force removes the app itself but still leaves shared
// dependencies in place.
func (r *Resolver) ResolveRemovalOrder(appID string, deployed []string, force bool) ([]string, error) {
	if !r.Has(appID) {
		return nil, engine.NewNotFoundError("app", appID)
	}

	deployedSet := make(map[string]bool, len(deployed))
	for _, id := range deployed {
		deployedSet[id] = true
	}

	// Check whether any other deployed app still requires the target.
	var dependents []string
	for _, other := range deployed {
		if other == appID || !r.Has(other) {
			continue
		}
		closure, err := r.ResolveDependencies(other)
		if err != nil {
			return nil, err
		}
		// The closure contains other itself, and not necessarily in last
		// position: bundle companions sort after it. Skip it by id.
		for _, id := range closure {
			if id == other {
				continue
			}
			if id == appID {
				dependents = append(dependents, other)
				break
			}
		}
	}
	if len(dependents) > 0 && !force {
		return nil, engine.NewError(engine.ErrCodeDependentsPresent,
			fmt.Sprintf("app %s is still required by: %s", appID, strings.Join(dependents, ", ")), nil).
			WithTarget(appID).
			WithDetail("dependents", strings.Join(dependents, ","))
	}

	installPlan, err := r.ResolveDependencies(appID)
	if err != nil {
		return nil, err
	}

	// Candidates: the app's closure restricted to what is actually deployed.
	removing := make(map[string]bool)
	for _, id := range installPlan {
		if deployedSet[id] {
			removing[id] = true
		}
	}

	// An app required by a surviving deployment must stay. Keeping one can
	// in turn protect its own dependencies, so iterate to a fixpoint.
	for changed := true; changed; {
		changed = false
		survivors := make([]string, 0, len(deployed))
		for _, id := range deployed {
			if !removing[id] {
				survivors = append(survivors, id)
			}
		}
		for _, survivor := range survivors {
			if !r.Has(survivor) {
				continue
			}
			closure, err := r.ResolveDependencies(survivor)
			if err != nil {
				return nil, err
			}
			for _, id := range closure {
				if id != appID && removing[id] {
					removing[id] = false
					changed = true
				}
			}
		}
	}

	// Reverse install order: dependents come down before their dependencies.
	plan := make([]string, 0, len(removing))
	for i := len(installPlan) - 1; i >= 0; i-- {
		if removing[installPlan[i]] {
			plan = append(plan, installPlan[i])
		}
	}
	return plan, nil
}
