// Package metrics holds the prometheus namespace and the reflection
// helper that component packages use to expose their collectors.
package metrics

import (
	"reflect"

	"github.com/prometheus/client_golang/prometheus"
)

const Namespace = "vidmesh"

// Collector is implemented by components that expose metrics.
type Collector interface {
	Metrics() []prometheus.Collector
}

// PrometheusCollectorsFromFields returns all exported struct fields of
// i that are prometheus collectors.
func PrometheusCollectorsFromFields(i interface{}) (cs []prometheus.Collector) {
	v := reflect.Indirect(reflect.ValueOf(i))
	for n := 0; n < v.NumField(); n++ {
		if !v.Field(n).CanInterface() {
			continue
		}
		if u, ok := v.Field(n).Interface().(prometheus.Collector); ok {
			cs = append(cs, u)
		}
	}
	return cs
}
