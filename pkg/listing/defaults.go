package listing

import (
	"sort"
	"strings"
	"sync"

	"github.com/MapcreatorIO/api-wrapper-sub000/internal/constants"
)

// DefaultValues are the field values a new QueryDescriptor starts from.
type DefaultValues struct {
	Page    int                 `json:"page"               yaml:"page"               mapstructure:"page"`
	PerPage int                 `json:"per_page"           yaml:"per_page"           mapstructure:"per_page"`
	Search  map[string][]string `json:"search,omitempty"   yaml:"search,omitempty"   mapstructure:"search"`
	Sort    []string            `json:"sort,omitempty"     yaml:"sort,omitempty"     mapstructure:"sort"`
	Deleted DeletedState        `json:"deleted,omitempty"  yaml:"deleted,omitempty"  mapstructure:"deleted"`
}

// BuiltinDefaults returns the values used when nothing was configured.
func BuiltinDefaults() DefaultValues {
	return DefaultValues{
		Page:    constants.DefaultPage,
		PerPage: constants.DefaultPerPage,
		Search:  map[string][]string{},
		Sort:    []string{},
		Deleted: DeletedUnset,
	}
}

// Defaults is a configurable, resettable group of descriptor defaults.
// A nil *Defaults reads as BuiltinDefaults. Set and Update on it return
// ErrNilDefaults and Reset does nothing.
type Defaults struct {
	mu     sync.RWMutex
	values DefaultValues
}

// NewDefaults creates defaults initialised to the built-in values.
func NewDefaults() *Defaults {
	return &Defaults{values: BuiltinDefaults()}
}

var sharedDefaults = NewDefaults()

// SharedDefaults returns the process-wide defaults instance.
func SharedDefaults() *Defaults {
	return sharedDefaults
}

// Values returns a copy of the current defaults.
func (d *Defaults) Values() DefaultValues {
	if d == nil {
		return BuiltinDefaults()
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.values.clone()
}

// Set validates and replaces every default at once.
func (d *Defaults) Set(values DefaultValues) error {
	if d == nil {
		return ErrNilDefaults
	}

	validated, err := values.validate()
	if err != nil {
		return err
	}

	d.mu.Lock()
	d.values = validated
	d.mu.Unlock()

	return nil
}

// Update overrides the recognized keys of raw and keeps the rest.
func (d *Defaults) Update(raw map[string]interface{}) error {
	if d == nil {
		return ErrNilDefaults
	}

	next := d.Values()

	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	for _, key := range keys {
		if strings.HasPrefix(key, "_") {
			continue
		}

		field, ok := recognizedField(key)
		if !ok {
			continue
		}

		var err error

		switch field {
		case FieldPage:
			next.Page, err = validatePage(raw[key])
		case FieldPerPage:
			next.PerPage, err = validatePerPage(raw[key])
		case FieldSearch:
			next.Search, err = validateSearch(raw[key])
		case FieldSort:
			next.Sort, err = validateSort(raw[key])
		case FieldDeleted:
			next.Deleted, err = validateDeleted(raw[key])
		}

		if err != nil {
			return err
		}
	}

	d.mu.Lock()
	d.values = next
	d.mu.Unlock()

	return nil
}

// Reset restores the built-in values.
func (d *Defaults) Reset() {
	if d == nil {
		return
	}

	d.mu.Lock()
	d.values = BuiltinDefaults()
	d.mu.Unlock()
}

func (v DefaultValues) clone() DefaultValues {
	return DefaultValues{
		Page:    v.Page,
		PerPage: v.PerPage,
		Search:  copySearch(v.Search),
		Sort:    copyStrings(v.Sort),
		Deleted: v.Deleted,
	}
}

func (v DefaultValues) validate() (DefaultValues, error) {
	var (
		out DefaultValues
		err error
	)

	out.Page, err = validatePage(v.Page)
	if err != nil {
		return out, err
	}

	out.PerPage, err = validatePerPage(v.PerPage)
	if err != nil {
		return out, err
	}

	out.Search, err = validateSearch(v.Search)
	if err != nil {
		return out, err
	}

	out.Sort, err = validateSort(v.Sort)
	if err != nil {
		return out, err
	}

	if v.Deleted == DeletedUnset {
		return out, nil
	}

	out.Deleted, err = validateDeleted(string(v.Deleted))
	if err != nil {
		return out, err
	}

	return out, nil
}
