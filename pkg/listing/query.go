package listing

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"github.com/spf13/cast"

	"github.com/MapcreatorIO/api-wrapper-sub000/internal/constants"
)

// DeletedState controls soft-deleted row visibility.
type DeletedState string

const (
	// DeletedUnset omits the deleted parameter from the request.
	DeletedUnset DeletedState = ""
	// DeletedAll includes soft-deleted rows.
	DeletedAll DeletedState = "all"
	// DeletedNone excludes soft-deleted rows.
	DeletedNone DeletedState = "none"
	// DeletedOnly returns only soft-deleted rows.
	DeletedOnly DeletedState = "only"

	deletedBoth = "both"
)

// Recognized descriptor fields.
const (
	FieldPage    = "page"
	FieldPerPage = "perPage"
	FieldSearch  = "search"
	FieldSort    = "sort"
	FieldDeleted = "deleted"
	FieldExtra   = "extra"
)

// QueryDescriptor holds validated list/search parameters for one listing.
//
// Every setter validates its input, so a descriptor is always in a state that
// can be encoded. Two descriptors that differ only in page or perPage share
// the same Token and therefore the same cache bucket.
type QueryDescriptor struct {
	page    int
	perPage int
	search  map[string][]string
	sort    []string
	deleted DeletedState
	extra   map[string]interface{}
}

// NewQueryDescriptor creates a descriptor populated from defaults. A nil
// defaults uses the built-in values.
func NewQueryDescriptor(defaults *Defaults) *QueryDescriptor {
	values := defaults.Values()

	return &QueryDescriptor{
		page:    values.Page,
		perPage: values.PerPage,
		search:  copySearch(values.Search),
		sort:    copyStrings(values.Sort),
		deleted: values.Deleted,
		extra:   map[string]interface{}{},
	}
}

// ParseQueryDescriptor builds a descriptor from a raw mapping, validating
// every recognized field. Unknown keys are ignored.
func ParseQueryDescriptor(raw map[string]interface{}, defaults *Defaults) (*QueryDescriptor, error) {
	query := NewQueryDescriptor(defaults)

	err := query.Apply(raw)
	if err != nil {
		return nil, err
	}

	return query, nil
}

// Validate checks a value for the named field and returns its normalized form.
func Validate(field string, value interface{}) (interface{}, error) {
	name, ok := recognizedField(field)
	if !ok {
		return nil, invalidParameter(field, value, "unknown parameter")
	}

	switch name {
	case FieldPage:
		return validatePage(value)
	case FieldPerPage:
		return validatePerPage(value)
	case FieldSearch:
		return validateSearch(value)
	case FieldSort:
		return validateSort(value)
	case FieldDeleted:
		return validateDeleted(value)
	default:
		return validateExtra(value)
	}
}

// Page returns the requested page number.
func (q *QueryDescriptor) Page() int {
	return q.page
}

// PerPage returns the requested page size.
func (q *QueryDescriptor) PerPage() int {
	return q.perPage
}

// Search returns a copy of the search filters.
func (q *QueryDescriptor) Search() map[string][]string {
	return copySearch(q.search)
}

// Sort returns a copy of the sort order.
func (q *QueryDescriptor) Sort() []string {
	return copyStrings(q.sort)
}

// Deleted returns the soft-delete visibility, DeletedUnset when omitted.
func (q *QueryDescriptor) Deleted() DeletedState {
	return q.deleted
}

// Extra returns a copy of the extra parameters.
func (q *QueryDescriptor) Extra() map[string]interface{} {
	return copyExtra(q.extra)
}

// SetPage validates and sets the page number.
func (q *QueryDescriptor) SetPage(value interface{}) error {
	page, err := validatePage(value)
	if err != nil {
		return err
	}

	q.page = page

	return nil
}

// SetPerPage validates and sets the page size.
func (q *QueryDescriptor) SetPerPage(value interface{}) error {
	perPage, err := validatePerPage(value)
	if err != nil {
		return err
	}

	q.perPage = perPage

	return nil
}

// SetSearch validates and replaces the search filters.
func (q *QueryDescriptor) SetSearch(value interface{}) error {
	search, err := validateSearch(value)
	if err != nil {
		return err
	}

	q.search = search

	return nil
}

// SetSort validates and replaces the sort order.
func (q *QueryDescriptor) SetSort(value interface{}) error {
	order, err := validateSort(value)
	if err != nil {
		return err
	}

	q.sort = order

	return nil
}

// SetDeleted validates and sets the soft-delete visibility.
func (q *QueryDescriptor) SetDeleted(value interface{}) error {
	deleted, err := validateDeleted(value)
	if err != nil {
		return err
	}

	q.deleted = deleted

	return nil
}

// ClearDeleted omits the deleted parameter again.
func (q *QueryDescriptor) ClearDeleted() {
	q.deleted = DeletedUnset
}

// SetExtra validates and replaces the extra parameters.
func (q *QueryDescriptor) SetExtra(value interface{}) error {
	extra, err := validateExtra(value)
	if err != nil {
		return err
	}

	q.extra = extra

	return nil
}

// Copy returns a deep copy of the descriptor.
func (q *QueryDescriptor) Copy() *QueryDescriptor {
	return &QueryDescriptor{
		page:    q.page,
		perPage: q.perPage,
		search:  copySearch(q.search),
		sort:    copyStrings(q.sort),
		deleted: q.deleted,
		extra:   copyExtra(q.extra),
	}
}

// Apply copies recognized fields from another descriptor or a raw mapping.
// Keys starting with an underscore and unknown keys are ignored. Nothing is
// modified when any recognized value fails validation.
func (q *QueryDescriptor) Apply(source interface{}) error {
	switch src := source.(type) {
	case nil:
		return nil
	case *QueryDescriptor:
		if src == nil {
			return nil
		}

		q.applyDescriptor(src)

		return nil
	case QueryDescriptor:
		q.applyDescriptor(&src)

		return nil
	case map[string]interface{}:
		return q.applyMap(src)
	default:
		return fmt.Errorf("%w: %T", ErrUnsupportedSource, source)
	}
}

func (q *QueryDescriptor) applyDescriptor(src *QueryDescriptor) {
	q.page = src.page
	q.perPage = src.perPage
	q.search = copySearch(src.search)
	q.sort = copyStrings(src.sort)
	q.extra = copyExtra(src.extra)

	if src.deleted != DeletedUnset {
		q.deleted = src.deleted
	}
}

func (q *QueryDescriptor) applyMap(raw map[string]interface{}) error {
	keys := make([]string, 0, len(raw))
	for key := range raw {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	next := q.Copy()

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
			err = next.SetPage(raw[key])
		case FieldPerPage:
			err = next.SetPerPage(raw[key])
		case FieldSearch:
			err = next.SetSearch(raw[key])
		case FieldSort:
			err = next.SetSort(raw[key])
		case FieldDeleted:
			err = next.SetDeleted(raw[key])
		case FieldExtra:
			err = next.SetExtra(raw[key])
		}

		if err != nil {
			return err
		}
	}

	*q = *next

	return nil
}

// ToObject returns the validated fields as a plain mapping. The deleted key
// is only present when explicitly set.
func (q *QueryDescriptor) ToObject() map[string]interface{} {
	object := map[string]interface{}{
		FieldPage:    q.page,
		FieldPerPage: q.perPage,
		FieldSearch:  copySearch(q.search),
		FieldSort:    copyStrings(q.sort),
		FieldExtra:   copyExtra(q.extra),
	}

	if q.deleted != DeletedUnset {
		object[FieldDeleted] = q.deleted
	}

	return object
}

// ToParameterObject returns the wire parameters with snake_case keys and the
// extra parameters applied last.
func (q *QueryDescriptor) ToParameterObject() map[string]interface{} {
	params := map[string]interface{}{
		"page":     q.page,
		"per_page": q.perPage,
	}

	if len(q.search) > 0 {
		search := make(map[string]string, len(q.search))
		for key, values := range snakeSearch(q.search) {
			search[key] = strings.Join(values, ",")
		}

		params[FieldSearch] = search
	}

	if len(q.sort) > 0 {
		params[FieldSort] = strings.Join(q.sort, ",")
	}

	if q.deleted != DeletedUnset {
		params[FieldDeleted] = string(q.deleted)
	}

	for key, value := range q.extra {
		params[snakeCase(key)] = value
	}

	return params
}

type queryPair struct {
	key   string
	value string
	bare  bool
}

// Encode produces the canonical query string for the descriptor.
func (q *QueryDescriptor) Encode() string {
	pairs := []queryPair{
		{key: "page", value: strconv.Itoa(q.page)},
		{key: "per_page", value: strconv.Itoa(q.perPage)},
	}

	search := snakeSearch(q.search)
	for _, key := range sortedKeys(search) {
		pairs = append(pairs, queryPair{
			key:   FieldSearch + "[" + key + "]",
			value: strings.Join(search[key], ","),
		})
	}

	if len(q.sort) > 0 {
		pairs = append(pairs, queryPair{key: FieldSort, value: strings.Join(q.sort, ",")})
	}

	if q.deleted != DeletedUnset {
		pairs = append(pairs, queryPair{key: FieldDeleted, value: string(q.deleted)})
	}

	for _, key := range sortedKeys(q.extra) {
		pair := queryPair{key: snakeCase(key)}

		value := q.extra[key]
		if value == nil {
			pair.bare = true
		} else {
			pair.value = formatExtraValue(value)
		}

		pairs = mergePair(pairs, pair)
	}

	parts := make([]string, 0, len(pairs))
	for _, pair := range pairs {
		if pair.bare {
			parts = append(parts, escapeQueryKey(pair.key))

			continue
		}

		parts = append(parts, escapeQueryKey(pair.key)+"="+escapeQueryValue(pair.value))
	}

	return strings.Join(parts, "&")
}

// String implements fmt.Stringer.
func (q *QueryDescriptor) String() string {
	return q.Encode()
}

// Token returns the cache identity of the descriptor. It covers search, sort
// and deleted only; page, perPage and extra never change it.
func (q *QueryDescriptor) Token() string {
	identity := map[string]interface{}{
		FieldSearch:  snakeSearch(q.search),
		FieldSort:    nonNilStrings(q.sort),
		FieldDeleted: string(q.deleted),
	}

	// Map keys are emitted sorted, which makes the digest independent of
	// insertion order.
	canonical, err := jsonCodec.Marshal(identity)
	if err != nil {
		canonical = []byte(fmt.Sprintf("%v", identity))
	}

	sum := sha256.Sum256(canonical)

	return hex.EncodeToString(sum[:])
}

func mergePair(pairs []queryPair, pair queryPair) []queryPair {
	for i := range pairs {
		if pairs[i].key == pair.key {
			pairs[i] = pair

			return pairs
		}
	}

	return append(pairs, pair)
}

func recognizedField(key string) (string, bool) {
	switch key {
	case FieldPage:
		return FieldPage, true
	case FieldPerPage, "per_page":
		return FieldPerPage, true
	case FieldSearch:
		return FieldSearch, true
	case FieldSort:
		return FieldSort, true
	case FieldDeleted:
		return FieldDeleted, true
	case FieldExtra:
		return FieldExtra, true
	default:
		return "", false
	}
}

func toFiniteNumber(field string, value interface{}) (float64, error) {
	switch value.(type) {
	case nil, bool:
		return 0, invalidParameter(field, value, "expected a number")
	}

	number, err := cast.ToFloat64E(value)
	if err != nil {
		return 0, invalidParameter(field, value, "expected a number")
	}

	if math.IsNaN(number) || math.IsInf(number, 0) {
		return 0, invalidParameter(field, value, "expected a finite number")
	}

	// Fractional input is rounded rather than rejected.
	rounded := math.Round(number)
	if rounded > math.MaxInt32 {
		return 0, invalidParameter(field, value, "number is too large")
	}

	return rounded, nil
}

func validatePage(value interface{}) (int, error) {
	number, err := toFiniteNumber(FieldPage, value)
	if err != nil {
		return 0, err
	}

	if number < 1 {
		return 0, invalidParameter(FieldPage, value, "must be 1 or greater")
	}

	return int(number), nil
}

func validatePerPage(value interface{}) (int, error) {
	number, err := toFiniteNumber(FieldPerPage, value)
	if err != nil {
		return 0, err
	}

	if number < constants.MinPerPage {
		return 0, invalidParameter(FieldPerPage, value, "must be a positive number")
	}

	return int(math.Min(number, constants.MaxPerPage)), nil
}

func validateSearch(value interface{}) (map[string][]string, error) {
	search := map[string][]string{}

	switch raw := value.(type) {
	case nil:
		return search, nil
	case map[string]string:
		for key, entry := range raw {
			if key == "" {
				return nil, invalidParameter(FieldSearch, value, "empty field name")
			}

			search[key] = []string{entry}
		}

		return search, nil
	case map[string][]string:
		for key, entries := range raw {
			if key == "" {
				return nil, invalidParameter(FieldSearch, value, "empty field name")
			}

			if len(entries) > 0 {
				search[key] = copyStrings(entries)
			}
		}

		return search, nil
	case map[string]interface{}:
		for key, entry := range raw {
			if key == "" {
				return nil, invalidParameter(FieldSearch, value, "empty field name")
			}

			values, err := searchValues(key, entry)
			if err != nil {
				return nil, err
			}

			if len(values) > 0 {
				search[key] = values
			}
		}

		return search, nil
	default:
		return nil, invalidParameter(FieldSearch, value, "expected a mapping of field names to values")
	}
}

func searchValues(key string, entry interface{}) ([]string, error) {
	field := FieldSearch + "." + key

	switch typed := entry.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{typed}, nil
	case []string:
		return copyStrings(typed), nil
	case []interface{}:
		values := make([]string, 0, len(typed))

		for _, item := range typed {
			str, ok := item.(string)
			if !ok {
				return nil, invalidParameter(field, entry, "list entries must be strings")
			}

			values = append(values, str)
		}

		return values, nil
	default:
		return nil, invalidParameter(field, entry, "expected a string or a list of strings")
	}
}

func validateSort(value interface{}) ([]string, error) {
	var entries []string

	switch raw := value.(type) {
	case nil:
		return []string{}, nil
	case string:
		if strings.TrimSpace(raw) == "" {
			return []string{}, nil
		}

		entries = strings.Split(raw, ",")
	case []string:
		entries = raw
	case []interface{}:
		entries = make([]string, 0, len(raw))

		for _, item := range raw {
			str, ok := item.(string)
			if !ok {
				return nil, invalidParameter(FieldSort, value, "sort entries must be strings")
			}

			entries = append(entries, str)
		}
	default:
		return nil, invalidParameter(FieldSort, value, "expected a comma separated string or a list of strings")
	}

	order := make([]string, 0, len(entries))

	for _, entry := range entries {
		entry = strings.TrimSpace(entry)

		name := strings.TrimLeft(entry, "+-")
		if name == "" || len(entry)-len(name) > 1 {
			return nil, invalidParameter(FieldSort, value, "invalid sort entry %q", entry)
		}

		order = append(order, entry)
	}

	return order, nil
}

func validateDeleted(value interface{}) (DeletedState, error) {
	var raw string

	switch typed := value.(type) {
	case nil:
		return DeletedUnset, nil
	case string:
		raw = typed
	case DeletedState:
		raw = string(typed)
	default:
		return DeletedUnset, invalidParameter(FieldDeleted, value, "expected one of all, none, only")
	}

	switch strings.ToLower(strings.TrimSpace(raw)) {
	case string(DeletedAll), deletedBoth:
		return DeletedAll, nil
	case string(DeletedNone):
		return DeletedNone, nil
	case string(DeletedOnly):
		return DeletedOnly, nil
	default:
		return DeletedUnset, invalidParameter(FieldDeleted, value, "expected one of all, none, only")
	}
}

func validateExtra(value interface{}) (map[string]interface{}, error) {
	extra := map[string]interface{}{}

	switch raw := value.(type) {
	case nil:
		return extra, nil
	case map[string]string:
		for key, entry := range raw {
			extra[key] = entry
		}

		return extra, nil
	case map[string]interface{}:
		for key, entry := range raw {
			if key == "" {
				return nil, invalidParameter(FieldExtra, value, "empty parameter name")
			}

			if !encodableExtraValue(entry) {
				return nil, invalidParameter(FieldExtra+"."+key, entry, "value cannot be encoded in a query string")
			}

			extra[key] = entry
		}

		return extra, nil
	default:
		return nil, invalidParameter(FieldExtra, value, "expected a mapping")
	}
}

func encodableExtraValue(value interface{}) bool {
	switch typed := value.(type) {
	case nil, []string:
		return true
	case []interface{}:
		for _, item := range typed {
			_, err := cast.ToStringE(item)
			if err != nil {
				return false
			}
		}

		return true
	default:
		_, err := cast.ToStringE(value)

		return err == nil
	}
}

func formatExtraValue(value interface{}) string {
	switch typed := value.(type) {
	case []string:
		return strings.Join(typed, ",")
	case []interface{}:
		return strings.Join(cast.ToStringSlice(typed), ",")
	default:
		return cast.ToString(value)
	}
}

// escapeQueryKey escapes a parameter name but keeps the brackets used for
// nested keys readable.
func escapeQueryKey(key string) string {
	escaped := url.QueryEscape(key)
	escaped = strings.ReplaceAll(escaped, "%5B", "[")

	return strings.ReplaceAll(escaped, "%5D", "]")
}

func escapeQueryValue(value string) string {
	return strings.ReplaceAll(url.QueryEscape(value), "+", "%20")
}

// snakeCase converts camelCase and PascalCase names to snake_case.
func snakeCase(name string) string {
	runes := []rune(name)

	var builder strings.Builder

	builder.Grow(len(name) + constants.SmallBufferSize)

	for i, current := range runes {
		if unicode.IsUpper(current) {
			if i > 0 && runes[i-1] != '_' {
				prev := runes[i-1]
				nextIsLower := i+1 < len(runes) && unicode.IsLower(runes[i+1])

				if unicode.IsLower(prev) || unicode.IsDigit(prev) || (unicode.IsUpper(prev) && nextIsLower) {
					builder.WriteRune('_')
				}
			}

			builder.WriteRune(unicode.ToLower(current))

			continue
		}

		builder.WriteRune(current)
	}

	return builder.String()
}

func snakeSearch(search map[string][]string) map[string][]string {
	out := make(map[string][]string, len(search))

	for _, key := range sortedKeys(search) {
		snake := snakeCase(key)
		out[snake] = append(out[snake], search[key]...)
	}

	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}

	sort.Strings(keys)

	return keys
}

func copyStrings(values []string) []string {
	out := make([]string, len(values))
	copy(out, values)

	return out
}

func nonNilStrings(values []string) []string {
	if values == nil {
		return []string{}
	}

	return values
}

func copySearch(search map[string][]string) map[string][]string {
	out := make(map[string][]string, len(search))
	for key, values := range search {
		out[key] = copyStrings(values)
	}

	return out
}

func copyExtra(extra map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(extra))
	for key, value := range extra {
		switch typed := value.(type) {
		case []string:
			out[key] = copyStrings(typed)
		case []interface{}:
			items := make([]interface{}, len(typed))
			copy(items, typed)
			out[key] = items
		default:
			out[key] = value
		}
	}

	return out
}
