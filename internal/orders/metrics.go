package orders

import (
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

type metrics struct {
	created             metric.Int64Counter
	cancelled           metric.Int64Counter
	returned            metric.Int64Counter
	reservationFailures metric.Int64Counter
}

func newMetrics(meter metric.Meter) metrics {
	return metrics{
		created:             counter(meter, "orders.created", "Orders placed"),
		cancelled:           counter(meter, "orders.cancelled", "Orders cancelled by customers or admins"),
		returned:            counter(meter, "orders.returned", "Delivered orders returned"),
		reservationFailures: counter(meter, "inventory.reservation_failures", "Stock reservations rejected while placing orders"),
	}
}

func counter(meter metric.Meter, name, description string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit("{order}"))
	if err != nil {
		return noop.Int64Counter{}
	}
	return c
}
