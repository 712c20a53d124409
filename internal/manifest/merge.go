package manifest

import (
	"github.com/Jeffail/gabs"

	"github.com/plainprince/mc-launcher/errs"
)

// MergeRaw combines the raw JSON documents of a parent version and the
// child that inherits from it, without forcing them through the typed
// model: keys the model does not know (complianceLevel, loader extras)
// survive verbatim. Scalar keys prefer the child's value; the libraries
// list and each arguments list concatenate parent-first.
func MergeRaw(parentRaw, childRaw []byte) ([]byte, error) {
	parent, err := gabs.ParseJSON(parentRaw)
	if err != nil {
		return nil, errs.Wrapf(errs.ProfileInvalid, err, "parent version JSON")
	}
	child, err := gabs.ParseJSON(childRaw)
	if err != nil {
		return nil, errs.Wrapf(errs.ProfileInvalid, err, "child version JSON")
	}

	childMap, err := child.ChildrenMap()
	if err != nil {
		return nil, errs.Wrapf(errs.ProfileInvalid, err, "child version JSON")
	}

	for key, value := range childMap {
		switch key {
		case "libraries":
			combined := concatArrays(parent.Search(key), value)
			if _, err := parent.Set(combined, key); err != nil {
				return nil, errs.Wrap(errs.ProfileInvalid, err)
			}
		case "arguments":
			subMap, err := value.ChildrenMap()
			if err != nil {
				// Not an object; treat it as an opaque scalar.
				if _, err := parent.Set(value.Data(), key); err != nil {
					return nil, errs.Wrap(errs.ProfileInvalid, err)
				}
				continue
			}
			for sub, list := range subMap {
				combined := concatArrays(parent.Search(key, sub), list)
				if _, err := parent.Set(combined, key, sub); err != nil {
					return nil, errs.Wrap(errs.ProfileInvalid, err)
				}
			}
		default:
			if _, err := parent.Set(value.Data(), key); err != nil {
				return nil, errs.Wrap(errs.ProfileInvalid, err)
			}
		}
	}

	return []byte(parent.String()), nil
}

// concatArrays joins two gabs array containers parent-first. A missing
// or non-array side contributes nothing.
func concatArrays(parent, child *gabs.Container) []interface{} {
	combined := []interface{}{}
	if parent != nil {
		if items, err := parent.Children(); err == nil {
			for _, item := range items {
				combined = append(combined, item.Data())
			}
		}
	}
	if child != nil {
		if items, err := child.Children(); err == nil {
			for _, item := range items {
				combined = append(combined, item.Data())
			}
		}
	}
	return combined
}

// Merge combines a parent descriptor with the child that inherits from
// it. Scalar fields prefer the child's value when present; library and
// argument lists keep parent entries first with the child's appended.
// Neither input is mutated.
func Merge(parent, child *VersionDetails) *VersionDetails {
	out := *child

	if out.MainClass == "" {
		out.MainClass = parent.MainClass
	}
	if out.MinecraftArguments == "" {
		out.MinecraftArguments = parent.MinecraftArguments
	}
	if out.Type == "" {
		out.Type = parent.Type
	}
	if out.Assets == "" {
		out.Assets = parent.Assets
	}
	if out.AssetIndex.ID == "" {
		out.AssetIndex = parent.AssetIndex
	}
	if out.Downloads.Client == nil {
		out.Downloads.Client = parent.Downloads.Client
	}
	if out.Downloads.Server == nil {
		out.Downloads.Server = parent.Downloads.Server
	}
	if out.JavaVersion.Component == "" {
		out.JavaVersion = parent.JavaVersion
	}
	if out.Logging == nil {
		out.Logging = parent.Logging
	}

	libs := make([]Library, 0, len(parent.Libraries)+len(child.Libraries))
	libs = append(libs, parent.Libraries...)
	libs = append(libs, child.Libraries...)
	out.Libraries = libs

	out.Arguments = mergeArguments(parent.Arguments, child.Arguments)

	return &out
}

func mergeArguments(parent, child *Arguments) *Arguments {
	if parent == nil {
		return child
	}
	if child == nil {
		return parent
	}
	merged := &Arguments{
		Game: make([]interface{}, 0, len(parent.Game)+len(child.Game)),
		JVM:  make([]interface{}, 0, len(parent.JVM)+len(child.JVM)),
	}
	merged.Game = append(merged.Game, parent.Game...)
	merged.Game = append(merged.Game, child.Game...)
	merged.JVM = append(merged.JVM, parent.JVM...)
	merged.JVM = append(merged.JVM, child.JVM...)
	return merged
}
