package pipeline

import (
	"fmt"
	"os"

	"github.com/gowebpki/jcs"
	"github.com/livefn/livefn/pkg/cdk"
	"github.com/livefn/livefn/pkg/util"
)

// Checksums maps stack names to a hash of their canonical template.
type Checksums map[string]string

// Compute hashes every stack template of m. Templates are canonicalised
// first so formatting and key order do not count as changes.
func Compute(m cdk.Manifest) (Checksums, error) {
	sums := Checksums{}
	for _, s := range m.Stacks {
		byt, err := os.ReadFile(m.TemplatePath(s))
		if err != nil {
			return nil, fmt.Errorf("error reading template for stack %s: %w", s.Name, err)
		}
		canonical, err := jcs.Transform(byt)
		if err != nil {
			return nil, fmt.Errorf("error canonicalising template for stack %s: %w", s.Name, err)
		}
		sums[s.Name] = util.XXHash(canonical)
	}
	return sums, nil
}

// Changed reports whether next adds, removes or modifies any stack of c.
func (c Checksums) Changed(next Checksums) bool {
	if len(c) != len(next) {
		return true
	}
	for name, sum := range next {
		if prev, ok := c[name]; !ok || prev != sum {
			return true
		}
	}
	return false
}
