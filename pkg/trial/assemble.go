package trial

import (
	"fmt"
	"slices"
	"strings"

	"github.com/OpenTraceLab/OpenTraceBits/pkg/design"
)

// BuildDesign turns concrete key values into a toolchain design. Empty
// values mean "absent": no instance, attribute left at its default, pin
// unconnected, pip off. Mutex keys are dropped.
func BuildDesign(device string, kv map[Key]string) (*design.Design, error) {
	keys := make([]Key, 0, len(kv))
	for k := range kv {
		keys = append(keys, k)
	}
	// Instances sort first, so attributes find their instance placed.
	slices.SortFunc(keys, compareKeys)

	d := design.New(device)
	for _, k := range keys {
		v := kv[k]
		if v == "" {
			continue
		}
		switch k.Kind {
		case KeyInst:
			kind, site, _ := strings.Cut(v, "@")
			d.Place(k.Scope, kind, site)
		case KeyAttr:
			if absent(kv, k.Scope) {
				continue
			}
			d.SetAttr(k.Scope, k.Name, v)
		case KeyPin:
			if absent(kv, k.Scope) {
				continue
			}
			d.Connect(k.Scope, k.Name, v)
		case KeyPip:
			d.AddPip(k.Scope, k.Name, v)
		case KeyOption:
			d.SetOption(k.Scope, v)
		case KeyMutex:
		default:
			return nil, fmt.Errorf("trial: unknown key kind %s", k.Kind)
		}
	}
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return d, nil
}

// absent reports whether inst is explicitly left unplaced.
func absent(kv map[Key]string, inst string) bool {
	v, ok := kv[Inst(inst)]
	return ok && v == ""
}
