package engine

import (
	"context"
	"errors"
	"fmt"

	"github.com/cellxform/cellxform/pkg/model"
)

// hopDirection is the direction of one connection hop in the encapsulation tree.
type hopDirection string

const (
	hopUp      hopDirection = "up"
	hopDown    hopDirection = "down"
	hopSibling hopDirection = "sibling"
)

type hop struct {
	from, to  string
	direction hopDirection
}

// hopPath returns the hops carrying a value from namespace src to namespace
// dst: up from src to just below the lowest common ancestor, one sibling hop
// across, then down to dst. Top-level namespaces are siblings under the
// model root.
func (t *Transformation) hopPath(src, dst string) ([]hop, error) {
	ancSrc, err := t.model.Ancestors(src)
	if err != nil {
		return nil, err
	}
	ancDst, err := t.model.Ancestors(dst)
	if err != nil {
		return nil, err
	}

	dstIndex := make(map[string]int, len(ancDst))
	for i, name := range ancDst {
		dstIndex[name] = i
	}

	// Below-LCA depths on each side; a full length means the LCA is the model root.
	iSrc, iDst, lca := len(ancSrc), len(ancDst), ""
	for i, name := range ancSrc {
		if j, ok := dstIndex[name]; ok {
			iSrc, iDst, lca = i, j, name
			break
		}
	}

	seq := append([]string(nil), ancSrc[:iSrc]...)
	if iSrc == 0 || iDst == 0 {
		seq = append(seq, lca)
	}
	for j := iDst - 1; j >= 0; j-- {
		seq = append(seq, ancDst[j])
	}

	hops := make([]hop, 0, len(seq)-1)
	for i := 0; i+1 < len(seq); i++ {
		from, to := seq[i], seq[i+1]
		h := hop{from: from, to: to, direction: hopSibling}
		fromNS, _ := t.model.Namespace(from)
		toNS, _ := t.model.Namespace(to)
		switch {
		case fromNS.Parent == to:
			h.direction = hopUp
		case toNS.Parent == from:
			h.direction = hopDown
		case fromNS.Parent != toNS.Parent:
			return nil, model.NewUnreachableError("no connection path between namespaces", nil).
				WithName(dst).WithDetail("from", src)
		}
		hops = append(hops, h)
	}
	return hops, nil
}

// connect makes source available inside namespace and returns its local
// name there. Each hop reuses a Mapped variable of the same name fed by the
// same ultimate source, or creates one together with its connection.
//
// Routing starts at source. When a variable on the route would have to
// export through a side that is already in, routing restarts one step up
// the chain of incoming connections, ending at the ultimate source.
//
// New hops take the units of source. The units checker compares them with
// the variable they are fed from, so with a route starting at source the
// first hop is only checked for registration in strict mode.
func (t *Transformation) connect(ctx context.Context, namespace string, source *model.Variable) (string, error) {
	if source.Namespace == namespace {
		return source.Name, nil
	}
	logger := loggerFrom(ctx)

	ultimate, err := t.model.Source(source)
	if err != nil {
		return "", err
	}

	start := source
	var hops []hop
	for {
		hops, err = t.planRoute(start, namespace, source.Name, ultimate)
		if err == nil {
			break
		}
		if !isExportBlocked(err) || start.Kind != model.KindMapped {
			return "", err
		}
		c, ok := t.model.Incoming(start.Ref())
		if !ok {
			return "", err
		}
		if start, err = t.model.LookupRef(c.From); err != nil {
			return "", err
		}
		logger.Debug().
			Str("source", source.QualifiedName()).
			Str("restart", start.QualifiedName()).
			Msg("Routing from upstream variable")
		if start.Namespace == namespace {
			return start.Name, nil
		}
	}

	prev := start
	for _, h := range hops {
		existing, err := t.model.Lookup(h.to, source.Name)
		if err == nil {
			if err := t.units.Compatible(prev.Units, existing.Units); err != nil {
				return "", wrapUnits(err, existing)
			}
			t.emit(ctx, Event{
				Type:    EventHopReused,
				Name:    existing.QualifiedName(),
				Message: "reused mapped variable",
				Data:    map[string]interface{}{"source": ultimate.QualifiedName(), "direction": string(h.direction)},
			})
			prev = existing
			continue
		}

		if err := t.units.Compatible(prev.Units, source.Units); err != nil {
			return "", wrapUnits(err, prev)
		}
		exportSide(&prev.Interface, h.direction)
		next, err := t.model.AddVariable(&model.Variable{
			Namespace: h.to,
			Name:      source.Name,
			Units:     source.Units,
			Kind:      model.KindMapped,
			Interface: importSide(h.direction),
		})
		if err != nil {
			return "", err
		}
		conn, err := t.model.AddConnection(prev.Ref(), next.Ref())
		if err != nil {
			return "", err
		}

		t.report.CreatedConnections = append(t.report.CreatedConnections, conn.String())
		if t.metrics != nil {
			t.metrics.RecordConnectionsCreated(1)
		}
		t.emit(ctx, Event{
			Type:    EventHopCreated,
			Name:    next.QualifiedName(),
			Message: "created mapped variable",
			Data: map[string]interface{}{
				"from":      prev.QualifiedName(),
				"direction": string(h.direction),
			},
		})
		logger.Debug().
			Str("from", prev.QualifiedName()).
			Str("to", next.QualifiedName()).
			Str("direction", string(h.direction)).
			Msg("Connection created")
		prev = next
	}
	return prev.Name, nil
}

// planRoute checks, without changing the model, that a value starting at
// start can travel to namespace under name. Every existing hop variable must
// be reusable and every exporting side must not be in.
func (t *Transformation) planRoute(start *model.Variable, namespace, name string, ultimate *model.Variable) ([]hop, error) {
	hops, err := t.hopPath(start.Namespace, namespace)
	if err != nil {
		return nil, err
	}

	prev, iface := start.QualifiedName(), start.Interface
	for _, h := range hops {
		existing, err := t.model.Lookup(h.to, name)
		switch {
		case err == nil:
			if err := t.checkReuse(existing, ultimate); err != nil {
				return nil, err
			}
			prev, iface = existing.QualifiedName(), existing.Interface
			continue
		case !model.IsNotFound(err):
			return nil, err
		}

		if !exportSide(&iface, h.direction) {
			return nil, model.NewUnreachableError(
				fmt.Sprintf("variable cannot export %s: interface side is already in", h.direction), nil).
				WithName(prev).
				WithCode(model.ErrCodeExportBlocked).
				WithDetail("interface", iface.String())
		}
		prev = model.VarRef{Namespace: h.to, Name: name}.String()
		iface = importSide(h.direction)
	}
	return hops, nil
}

func isExportBlocked(err error) bool {
	var me *model.Error
	return errors.As(err, &me) && me.Code == model.ErrCodeExportBlocked
}

// checkReuse accepts an existing hop variable only if it is Mapped and fed
// by the same ultimate source.
func (t *Transformation) checkReuse(existing, ultimate *model.Variable) error {
	if existing.Kind != model.KindMapped {
		return model.NewUnreachableError("hop name is occupied by a variable that is not mapped", nil).
			WithName(existing.QualifiedName()).
			WithDetail("kind", string(existing.Kind)).
			WithDetail("source", ultimate.QualifiedName())
	}
	src, err := t.model.Source(existing)
	if err != nil {
		return err
	}
	if src.Ref() != ultimate.Ref() {
		return model.NewUnreachableError("hop name is mapped from a different source", nil).
			WithName(existing.QualifiedName()).
			WithDetail("source", ultimate.QualifiedName()).
			WithDetail("existing_source", src.QualifiedName())
	}
	return nil
}

// exportSide marks the side of iface through which a variable sends along a
// hop. It reports false if that side is already in.
func exportSide(iface *model.Interface, d hopDirection) bool {
	side := &iface.Public
	if d == hopDown {
		side = &iface.Private
	}
	switch *side {
	case model.DirectionIn:
		return false
	case model.DirectionNone, "":
		*side = model.DirectionOut
	}
	return true
}

// importSide is the interface of a variable created to receive along a hop.
func importSide(d hopDirection) model.Interface {
	if d == hopUp {
		return model.Interface{Public: model.DirectionNone, Private: model.DirectionIn}
	}
	return model.Interface{Public: model.DirectionIn, Private: model.DirectionNone}
}

func wrapUnits(err error, v *model.Variable) error {
	if model.ClassOf(err) != "" {
		return err
	}
	return model.NewUnreachableError("units check failed", err).
		WithName(v.QualifiedName()).WithCode(model.ErrCodeUnits)
}
