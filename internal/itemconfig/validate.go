package itemconfig

import (
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Iron-Ham/ppline/internal/errors"
	"github.com/Iron-Ham/ppline/internal/preproc"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ValidationError is a single problem found in a file.
type ValidationError struct {
	ItemID  uint64
	Field   string // e.g. "items[2].steps[0].type"
	Value   any
	Message string
}

func (e ValidationError) Error() string {
	if e.ItemID != 0 {
		return fmt.Sprintf("item %d: %s: %s (got: %v)", e.ItemID, e.Field, e.Message, e.Value)
	}
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects every problem found in a file.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// Validate checks field constraints, step and error handler names, master
// references and dependency cycles. A cycle is reported as
// errors.ErrDependencyCycle.
func (f *File) Validate() error {
	var errs ValidationErrors
	errs = append(errs, f.validateFields()...)
	errs = append(errs, f.validateSteps()...)
	errs = append(errs, f.validateMasters()...)
	if len(errs) > 0 {
		return errs
	}

	if id, ok := f.findCycle(); ok {
		return errors.NewConfigError("", fmt.Errorf("%w through item %d", errors.ErrDependencyCycle, id)).
			WithItem(id).WithField("master")
	}
	return nil
}

func (f *File) validateFields() []ValidationError {
	err := validate.Struct(f)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return []ValidationError{{Field: "items", Message: err.Error()}}
	}

	out := make([]ValidationError, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, ValidationError{
			Field:   fieldPath(fe.Namespace()),
			Value:   fe.Value(),
			Message: tagMessage(fe),
		})
	}
	return out
}

// fieldPath turns "File.Items[1].Steps[0].Type" into "items[1].steps[0].type".
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "File.")
	replacer := strings.NewReplacer(
		"Items", "items",
		"Steps", "steps",
		"ItemID", "itemid",
		"ValueType", "value_type",
		"Mode", "mode",
		"Master", "master",
		"Type", "type",
		"ErrorHandler", "error_handler",
	)
	return replacer.Replace(ns)
}

func tagMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "unique":
		return "item identifiers must be unique"
	case "nefield":
		return "an item cannot be its own master"
	default:
		return fmt.Sprintf("failed %q check", fe.Tag())
	}
}

func (f *File) validateSteps() []ValidationError {
	var errs []ValidationError
	for i, item := range f.Items {
		for j, st := range item.Steps {
			if st.Type == "" {
				continue
			}
			if _, err := preproc.ParseStepType(st.Type); err != nil {
				errs = append(errs, ValidationError{
					ItemID:  item.ItemID,
					Field:   fmt.Sprintf("items[%d].steps[%d].type", i, j),
					Value:   st.Type,
					Message: "unknown step type",
				})
			}
		}
	}
	return errs
}

func (f *File) validateMasters() []ValidationError {
	ids := make(map[uint64]struct{}, len(f.Items))
	for _, item := range f.Items {
		ids[item.ItemID] = struct{}{}
	}

	var errs []ValidationError
	for i, item := range f.Items {
		if item.Master == 0 {
			continue
		}
		if _, ok := ids[item.Master]; !ok {
			errs = append(errs, ValidationError{
				ItemID:  item.ItemID,
				Field:   fmt.Sprintf("items[%d].master", i),
				Value:   item.Master,
				Message: "unknown master item",
			})
		}
	}
	return errs
}

// findCycle follows master links from every item and returns an item on a
// loop, if any.
func (f *File) findCycle() (uint64, bool) {
	master := make(map[uint64]uint64, len(f.Items))
	for _, item := range f.Items {
		master[item.ItemID] = item.Master
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[uint64]int, len(master))

	ids := make([]uint64, 0, len(master))
	for id := range master {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, start := range ids {
		var path []uint64
		id := start
		for id != 0 && state[id] == unvisited {
			state[id] = visiting
			path = append(path, id)
			id = master[id]
		}
		if id != 0 && state[id] == visiting {
			return id, true
		}
		for _, p := range path {
			state[p] = done
		}
	}
	return 0, false
}
