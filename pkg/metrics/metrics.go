package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type WebSocketMetrics struct {
	ActiveConnections    *prometheus.GaugeVec
	ConnectionsTotal     prometheus.Counter
	ConnectionDuration   prometheus.Histogram
	UnexpectedCloseCount prometheus.Counter
	UpgradeErrorCount    prometheus.Counter
	LivenessEvictions    prometheus.Counter

	MessagesSent     *prometheus.CounterVec
	MessagesReceived *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	BytesSent        prometheus.Counter
	BytesReceived    prometheus.Counter
	SendQueueFull    prometheus.Counter
}

type RouterMetrics struct {
	FramesHandled       *prometheus.CounterVec
	FramesRejected      *prometheus.CounterVec
	PersistErrors       *prometheus.CounterVec
	PersistLatency      *prometheus.HistogramVec
	Broadcasts          *prometheus.CounterVec
	CommandsSent        *prometheus.CounterVec
	CommandsUndelivered *prometheus.CounterVec
}

type KafkaMetrics struct {
	MessagesProcessed *prometheus.CounterVec
	ConsumerLag       *prometheus.GaugeVec
	DeserializeErrors prometheus.Counter
	KafkaErrors       *prometheus.CounterVec
}

type RedisMetrics struct {
	PresenceWrites       prometheus.Counter
	PresenceRemovals     prometheus.Counter
	RedisOperationErrors *prometheus.CounterVec
}

type HttpMetrics struct {
	RequestsTotal      *prometheus.CounterVec
	ResponseStatusCode *prometheus.CounterVec
	RequestDuration    *prometheus.HistogramVec
}

type SystemMetrics struct {
	GoroutineCount prometheus.Gauge
}

type Metrics struct {
	WebSocket WebSocketMetrics
	Router    RouterMetrics
	Kafka     KafkaMetrics
	Redis     RedisMetrics
	Http      HttpMetrics
	System    SystemMetrics
}

// NewMetrics registers every collector with reg. Pass a fresh
// prometheus.NewRegistry() in tests to avoid duplicate registration.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	m := &Metrics{
		WebSocket: WebSocketMetrics{
			ActiveConnections: f.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "websocket_active_connections",
				Help:      "Количество активных WebSocket соединений, по ролям",
			}, []string{"role"}),
			ConnectionsTotal: f.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_connections_total",
				Help:      "Общее количество установленных WebSocket соединений",
			}),
			ConnectionDuration: f.NewHistogram(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "websocket_connection_duration_seconds",
				Help:      "Длительность WebSocket соединений в секундах",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 14),
			}),
			UnexpectedCloseCount: f.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_unexpected_close_total",
				Help:      "Количество неожиданно закрытых соединений",
			}),
			UpgradeErrorCount: f.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_upgrade_errors_total",
				Help:      "Количество ошибок при установке WebSocket соединения",
			}),
			LivenessEvictions: f.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_liveness_evictions_total",
				Help:      "Количество соединений, закрытых из-за отсутствия pong",
			}),
			MessagesSent: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_messages_sent_total",
				Help:      "Количество отправленных сообщений, по типам",
			}, []string{"message_type"}),
			MessagesReceived: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_messages_received_total",
				Help:      "Количество полученных кадров, по роли клиента",
			}, []string{"role"}),
			MessagesDropped: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_messages_dropped_total",
				Help:      "Количество сообщений, не доставленных получателю, по типам",
			}, []string{"message_type"}),
			BytesSent: f.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_bytes_sent_total",
				Help:      "Количество отправленных байт",
			}),
			BytesReceived: f.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_bytes_received_total",
				Help:      "Количество полученных байт",
			}),
			SendQueueFull: f.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "websocket_send_queue_full_total",
				Help:      "Количество переполнений очереди отправки клиента",
			}),
		},
		Router: RouterMetrics{
			FramesHandled: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "router_frames_handled_total",
				Help:      "Количество обработанных входящих кадров, по типам",
			}, []string{"message_type"}),
			FramesRejected: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "router_frames_rejected_total",
				Help:      "Количество отклонённых входящих кадров, по причинам",
			}, []string{"reason"}),
			PersistErrors: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "router_persist_errors_total",
				Help:      "Количество ошибок записи в хранилище, по операциям",
			}, []string{"operation"}),
			PersistLatency: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "router_persist_latency_seconds",
				Help:      "Время выполнения операций с хранилищем",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 12),
			}, []string{"operation"}),
			Broadcasts: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "router_broadcasts_total",
				Help:      "Количество рассылок на дашборды, по типам",
			}, []string{"message_type"}),
			CommandsSent: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "router_commands_sent_total",
				Help:      "Количество команд, доставленных устройствам, по типам",
			}, []string{"message_type"}),
			CommandsUndelivered: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "router_commands_undelivered_total",
				Help:      "Количество команд для неподключённых устройств, по типам",
			}, []string{"message_type"}),
		},
		Kafka: KafkaMetrics{
			MessagesProcessed: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kafka_messages_processed_total",
				Help:      "Количество обработанных сообщений из Kafka, по темам",
			}, []string{"topic"}),
			ConsumerLag: f.NewGaugeVec(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "kafka_consumer_lag",
				Help:      "Отставание консюмера Kafka, по темам и партициям",
			}, []string{"topic", "partition"}),
			DeserializeErrors: f.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kafka_deserialize_errors_total",
				Help:      "Количество ошибок десериализации сообщений из Kafka",
			}),
			KafkaErrors: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "kafka_errors_total",
				Help:      "Количество ошибок Kafka, по кодам ошибок",
			}, []string{"code"}),
		},
		Redis: RedisMetrics{
			PresenceWrites: f.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "redis_presence_writes_total",
				Help:      "Количество записей присутствия устройств в Redis",
			}),
			PresenceRemovals: f.NewCounter(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "redis_presence_removals_total",
				Help:      "Количество удалений присутствия устройств из Redis",
			}),
			RedisOperationErrors: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "redis_operation_errors_total",
				Help:      "Количество ошибок операций с Redis, по типам",
			}, []string{"operation"}),
		},
		Http: HttpMetrics{
			RequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Количество HTTP-запросов, по методам и путям",
			}, []string{"method", "path"}),
			ResponseStatusCode: f.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_response_status_code_total",
				Help:      "Количество HTTP-ответов, по кодам статуса",
			}, []string{"status_code"}),
			RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "Время обработки HTTP-запроса",
				Buckets:   prometheus.ExponentialBuckets(0.001, 2, 10),
			}, []string{"path"}),
		},
		System: SystemMetrics{
			GoroutineCount: f.NewGauge(prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_goroutine_count",
				Help:      "Количество активных горутин",
			}),
		},
	}

	return m
}
