package log

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	defaultPattern = "%time [%tag] [%level] %msg %field%n"
	defaultTime    = "2006-01-02T15:04:05.000Z"
)

type formatter struct {
	pattern string
	time    string
}

// Format supports %time, %level, %tag, %field, %msg, %caller and %n. Time is always rendered in UTC.
func (f *formatter) Format(entry *logrus.Entry) ([]byte, error) {
	tag, _ := entry.Data[TagKey].(string)
	if tag == "" {
		tag = "-"
	}
	output := f.pattern
	output = strings.Replace(output, "%time", entry.Time.UTC().Format(f.time), 1)
	output = strings.Replace(output, "%level", strings.ToUpper(entry.Level.String()), 1)
	output = strings.Replace(output, "%tag", tag, 1)
	output = strings.Replace(output, "%field", buildFields(entry), 1)
	output = strings.Replace(output, "%msg", entry.Message, 1)
	output = strings.Replace(output, "%caller", getCaller(entry), 1)
	output = strings.Replace(output, "%n", "", 1)
	// an empty %field leaves trailing blanks
	output = strings.TrimRight(output, " \n") + "\n"
	return []byte(output), nil
}

// getCaller renders package/file:line when caller reporting is on.
func getCaller(entry *logrus.Entry) string {
	if !entry.HasCaller() {
		return "-"
	}
	file := entry.Caller.File
	if i := strings.LastIndex(file, "/"); i != -1 && i+1 < len(file) {
		file = file[i+1:]
	}
	pkg := ""
	if fn := entry.Caller.Function; fn != "" {
		short := fn[strings.LastIndex(fn, "/")+1:]
		if dot := strings.Index(short, "."); dot != -1 {
			pkg = short[:dot]
		}
	}
	return fmt.Sprintf("%s/%s:%d", pkg, file, entry.Caller.Line)
}

func buildFields(entry *logrus.Entry) string {
	keys := make([]string, 0, len(entry.Data))
	for key := range entry.Data {
		if key == TagKey {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	fields := make([]string, 0, len(keys))
	for _, key := range keys {
		val := entry.Data[key]
		stringVal, ok := val.(string)
		if !ok {
			if err, isErr := val.(error); isErr {
				stringVal = err.Error()
			} else {
				stringVal = fmt.Sprint(val)
			}
		}
		fields = append(fields, key+"="+stringVal)
	}
	return strings.Join(fields, " ")
}
