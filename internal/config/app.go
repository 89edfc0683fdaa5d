package config

type AppConfig struct {
	Server  ServerConfig
	Log     LogConfig
	Billing BillingConfig
	AMQP    AMQPConfig
	Redis   RedisConfig
	Alert   AlertConfig
}

func LoadApp() (AppConfig, error) {
	logCfg, err := LoadLog()
	if err != nil {
		return AppConfig{}, err
	}
	serverCfg, err := LoadServer()
	if err != nil {
		return AppConfig{}, err
	}
	billingCfg, err := LoadBilling()
	if err != nil {
		return AppConfig{}, err
	}
	amqpCfg, err := LoadAMQP()
	if err != nil {
		return AppConfig{}, err
	}
	redisCfg, err := LoadRedis()
	if err != nil {
		return AppConfig{}, err
	}
	alertCfg, err := LoadAlert()
	if err != nil {
		return AppConfig{}, err
	}
	return AppConfig{
		Server:  serverCfg,
		Log:     logCfg,
		Billing: billingCfg,
		AMQP:    amqpCfg,
		Redis:   redisCfg,
		Alert:   alertCfg,
	}, nil
}
