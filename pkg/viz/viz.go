// Package viz draws the change history of a tombstone document: one node per change, labelled
// with the tab that made it and how many signatures were tombstoned at that point.
package viz

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/automerge/automerge-go"
	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
	"github.com/pkg/errors"

	"github.com/astromechza/comanda-relay/pkg/cache"
)

// Step is the tombstone set as it stood after one change.
type Step struct {
	Hash         string
	Dependencies []string
	Actor        string
	Seq          uint64
	Message      string
	Signatures   int
}

func (s Step) Label() string {
	return fmt.Sprintf("%s %s@%d %q n=%d", s.Hash[:8], s.Actor, s.Seq, s.Message, s.Signatures)
}

// History replays the document change by change.
func History(doc *automerge.Doc) ([]Step, error) {
	changes, err := doc.Changes()
	if err != nil {
		return nil, errors.Wrap(err, "failed to generate changes")
	}
	steps := make([]Step, 0, len(changes))
	for _, change := range changes {
		docAt, err := doc.Fork(change.Hash())
		if err != nil {
			return nil, errors.Wrapf(err, "failed to checkout %s", change.Hash())
		}
		sigs, err := cache.Signatures(docAt)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read signatures at %s", change.Hash())
		}
		deps := make([]string, 0, len(change.Dependencies()))
		for _, hash := range change.Dependencies() {
			deps = append(deps, hash.String())
		}
		steps = append(steps, Step{
			Hash:         change.Hash().String(),
			Dependencies: deps,
			Actor:        change.ActorID(),
			Seq:          change.ActorSeq(),
			Message:      change.Message(),
			Signatures:   len(sigs),
		})
	}
	return steps, nil
}

// Render writes the history graph to w in the given format.
func Render(doc *automerge.Doc, format graphviz.Format, w io.Writer) error {
	steps, err := History(doc)
	if err != nil {
		return err
	}
	g := graphviz.New()
	graph, err := g.Graph()
	if err != nil {
		return errors.Wrap(err, "failed to setup graph")
	}
	defer func() {
		_ = graph.Close()
		_ = g.Close()
	}()

	nodeMap := make(map[string]*cgraph.Node, len(steps))
	var edgeCounter uint64
	for _, s := range steps {
		n, err := graph.CreateNode(s.Hash)
		if err != nil {
			return errors.Wrap(err, "failed to create node")
		}
		n.SetLabel(s.Label())
		nodeMap[s.Hash] = n
		for _, dep := range s.Dependencies {
			parent, ok := nodeMap[dep]
			if !ok {
				continue
			}
			if _, err := graph.CreateEdge(strconv.FormatUint(atomic.AddUint64(&edgeCounter, 1), 10), parent, n); err != nil {
				return errors.Wrap(err, "failed to create edge")
			}
		}
	}
	return errors.Wrap(g.Render(graph, format, w), "failed to render")
}

// RenderToFile writes an SVG of the history to outputPath.
func RenderToFile(doc *automerge.Doc, outputPath string) error {
	var buff bytes.Buffer
	if err := Render(doc, graphviz.SVG, &buff); err != nil {
		return err
	}
	return errors.Wrap(os.WriteFile(outputPath, buff.Bytes(), 0o644), "failed to write")
}
