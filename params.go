package batchcore

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/chararch/batchcore/util"
	"github.com/google/uuid"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

//ParamType type of a job parameter value
type ParamType string

const (
	ParamString ParamType = "string"
	ParamLong   ParamType = "long"
	ParamDouble ParamType = "double"
	ParamDate   ParamType = "date"
	ParamBool   ParamType = "boolean"
)

//DateLayout layout used to parse date parameters without a time part
const DateLayout = "2006-01-02"

//JobParameter a typed parameter value
type JobParameter struct {
	Type        ParamType
	Value       interface{}
	Identifying bool
}

//String canonical string form of the value, ParseJobParameter reverses it
func (p JobParameter) String() string {
	switch p.Type {
	case ParamDate:
		return p.Value.(time.Time).UTC().Format(time.RFC3339Nano)
	case ParamDouble:
		return strconv.FormatFloat(p.Value.(float64), 'g', -1, 64)
	default:
		return fmt.Sprintf("%v", p.Value)
	}
}

func (p JobParameter) equal(other JobParameter) bool {
	if p.Type != other.Type || p.Identifying != other.Identifying {
		return false
	}
	if p.Type == ParamDate {
		return p.Value.(time.Time).Equal(other.Value.(time.Time))
	}
	return p.Value == other.Value
}

type jobParameterJson struct {
	Type        ParamType `json:"type"`
	Value       string    `json:"value"`
	Identifying bool      `json:"identifying"`
}

func (p JobParameter) MarshalJSON() ([]byte, error) {
	return json.Marshal(jobParameterJson{Type: p.Type, Value: p.String(), Identifying: p.Identifying})
}

func (p *JobParameter) UnmarshalJSON(b []byte) error {
	raw := jobParameterJson{}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	parsed, err := ParseJobParameter(raw.Type, raw.Value, raw.Identifying)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

//ParseJobParameter build a parameter from its type and string form
func ParseJobParameter(tp ParamType, value string, identifying bool) (JobParameter, error) {
	p := JobParameter{Type: tp, Identifying: identifying}
	switch tp {
	case ParamString, "":
		p.Type = ParamString
		p.Value = value
	case ParamLong:
		v, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return p, errors.Wrapf(err, "invalid long parameter value:%v", value)
		}
		p.Value = v
	case ParamDouble:
		v, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return p, errors.Wrapf(err, "invalid double parameter value:%v", value)
		}
		p.Value = v
	case ParamBool:
		v, err := strconv.ParseBool(value)
		if err != nil {
			return p, errors.Wrapf(err, "invalid boolean parameter value:%v", value)
		}
		p.Value = v
	case ParamDate:
		v, err := time.Parse(time.RFC3339Nano, value)
		if err != nil {
			v, err = time.ParseInLocation(DateLayout, value, time.UTC)
		}
		if err != nil {
			return p, errors.Wrapf(err, "invalid date parameter value:%v", value)
		}
		p.Value = v.UTC()
	default:
		return p, errors.Errorf("unsupported parameter type:%v", tp)
	}
	return p, nil
}

//JobParameters immutable set of typed parameters, the identifying ones define a JobInstance
type JobParameters struct {
	params map[string]JobParameter
}

//NewJobParameters an empty parameter set
func NewJobParameters() JobParameters {
	return JobParameters{params: map[string]JobParameter{}}
}

func (p JobParameters) Get(key string) (JobParameter, bool) {
	v, ok := p.params[key]
	return v, ok
}

func (p JobParameters) GetString(key string) string {
	if v, ok := p.params[key]; ok {
		return v.String()
	}
	return ""
}

func (p JobParameters) GetLong(key string) (int64, bool) {
	v, ok := p.params[key]
	if !ok || v.Type != ParamLong {
		return 0, false
	}
	return v.Value.(int64), true
}

func (p JobParameters) GetDouble(key string) (float64, bool) {
	v, ok := p.params[key]
	if !ok || v.Type != ParamDouble {
		return 0, false
	}
	return v.Value.(float64), true
}

func (p JobParameters) GetDate(key string) (time.Time, bool) {
	v, ok := p.params[key]
	if !ok || v.Type != ParamDate {
		return time.Time{}, false
	}
	return v.Value.(time.Time), true
}

func (p JobParameters) GetBool(key string) (bool, bool) {
	v, ok := p.params[key]
	if !ok || v.Type != ParamBool {
		return false, false
	}
	return v.Value.(bool), true
}

//Keys parameter names in ascending order
func (p JobParameters) Keys() []string {
	return util.SortedKeys(p.params)
}

func (p JobParameters) Len() int {
	return len(p.params)
}

func (p JobParameters) IsEmpty() bool {
	return len(p.params) == 0
}

//Equal two parameter sets are equal when every entry matches by name, type and value
func (p JobParameters) Equal(other JobParameters) bool {
	if len(p.params) != len(other.params) {
		return false
	}
	for k, v := range p.params {
		o, ok := other.params[k]
		if !ok || !v.equal(o) {
			return false
		}
	}
	return true
}

//Identifying the subset of parameters that contributes to JobInstance identity
func (p JobParameters) Identifying() JobParameters {
	result := NewJobParameters()
	for k, v := range p.params {
		if v.Identifying {
			result.params[k] = v
		}
	}
	return result
}

//Hash identity key of the identifying parameters, independent of insertion order
func (p JobParameters) Hash() string {
	type entry struct {
		Name  string    `json:"name"`
		Type  ParamType `json:"type"`
		Value string    `json:"value"`
	}
	entries := make([]entry, 0, len(p.params))
	for _, k := range p.Keys() {
		v := p.params[k]
		if v.Identifying {
			entries = append(entries, entry{Name: k, Type: v.Type, Value: v.String()})
		}
	}
	digest, _ := util.JsonMD5(entries)
	return digest
}

//ToMap raw values keyed by parameter name
func (p JobParameters) ToMap() map[string]interface{} {
	m := make(map[string]interface{}, len(p.params))
	for k, v := range p.params {
		m[k] = v.Value
	}
	return m
}

//Decode copy parameter values into a struct, field names are matched by `mapstructure` tags
func (p JobParameters) Decode(out interface{}) error {
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		DecodeHook:       mapstructure.StringToTimeHookFunc(time.RFC3339Nano),
	})
	if err != nil {
		return err
	}
	return decoder.Decode(p.ToMap())
}

//With a copy of the parameters with key set to param
func (p JobParameters) With(key string, param JobParameter) JobParameters {
	result := NewJobParameters()
	for k, v := range p.params {
		result.params[k] = v
	}
	result.params[key] = param
	return result
}

func (p JobParameters) String() string {
	parts := make([]string, 0, len(p.params))
	for _, k := range p.Keys() {
		v := p.params[k]
		prefix := ""
		if !v.Identifying {
			prefix = "-"
		}
		parts = append(parts, fmt.Sprintf("%s%s(%s)=%s", prefix, k, v.Type, v.String()))
	}
	return "{" + strings.Join(parts, ", ") + "}"
}

func (p JobParameters) MarshalJSON() ([]byte, error) {
	if p.params == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p.params)
}

func (p *JobParameters) UnmarshalJSON(b []byte) error {
	params := map[string]JobParameter{}
	if err := json.Unmarshal(b, &params); err != nil {
		return err
	}
	p.params = params
	return nil
}

//JobParametersBuilder builds JobParameters fluently, parameters are identifying unless told otherwise
type JobParametersBuilder struct {
	params map[string]JobParameter
}

func NewJobParametersBuilder() *JobParametersBuilder {
	return &JobParametersBuilder{params: map[string]JobParameter{}}
}

func identifying(flags []bool) bool {
	return len(flags) == 0 || flags[0]
}

func (b *JobParametersBuilder) String(key, value string, ident ...bool) *JobParametersBuilder {
	b.params[key] = JobParameter{Type: ParamString, Value: value, Identifying: identifying(ident)}
	return b
}

func (b *JobParametersBuilder) Long(key string, value int64, ident ...bool) *JobParametersBuilder {
	b.params[key] = JobParameter{Type: ParamLong, Value: value, Identifying: identifying(ident)}
	return b
}

func (b *JobParametersBuilder) Double(key string, value float64, ident ...bool) *JobParametersBuilder {
	b.params[key] = JobParameter{Type: ParamDouble, Value: value, Identifying: identifying(ident)}
	return b
}

func (b *JobParametersBuilder) Date(key string, value time.Time, ident ...bool) *JobParametersBuilder {
	b.params[key] = JobParameter{Type: ParamDate, Value: value.UTC(), Identifying: identifying(ident)}
	return b
}

func (b *JobParametersBuilder) Bool(key string, value bool, ident ...bool) *JobParametersBuilder {
	b.params[key] = JobParameter{Type: ParamBool, Value: value, Identifying: identifying(ident)}
	return b
}

func (b *JobParametersBuilder) Build() JobParameters {
	result := NewJobParameters()
	for k, v := range b.params {
		result.params[k] = v
	}
	return result
}

var paramArgRegexp = regexp.MustCompile(`^(-?)([^()=]+)(?:\(([a-z]+)\))?=(.*)$`)

//ParseJobParameters parse command line arguments of the form [-]name[(type)]=value,
//a leading '-' marks the parameter as non-identifying and the type defaults to string
func ParseJobParameters(args []string) (JobParameters, error) {
	result := NewJobParameters()
	for _, arg := range args {
		m := paramArgRegexp.FindStringSubmatch(arg)
		if m == nil {
			return result, errors.Errorf("invalid job parameter:%v, expected name(type)=value", arg)
		}
		p, err := ParseJobParameter(ParamType(m[3]), m[4], m[1] == "")
		if err != nil {
			return result, errors.WithMessagef(err, "parse job parameter:%v", m[2])
		}
		result.params[m[2]] = p
	}
	return result, nil
}

//RunIdKey name of the parameter added by RunIdIncrementer
const RunIdKey = "run.id"

//JobParametersIncrementer derives parameters of the next JobInstance from the given ones
type JobParametersIncrementer interface {
	GetNext(params JobParameters) JobParameters
}

//RunIdIncrementer makes a new JobInstance by setting a random run.id token
type RunIdIncrementer struct {
}

func (inc *RunIdIncrementer) GetNext(params JobParameters) JobParameters {
	return params.With(RunIdKey, JobParameter{Type: ParamString, Value: uuid.NewString(), Identifying: true})
}
