package cron_config

type Config struct {
	// Heartbeat check, every minute
	CronScheduleHeartbeat string `env:"CRON_SCHEDULE_HEARTBEAT" envDefault:"0 * * * * *"`
	// Periodic incremental sync of every syncable account, every 5 minutes
	CronScheduleSyncAccounts string `env:"CRON_SCHEDULE_SYNC_ACCOUNTS" envDefault:"0 */5 * * * *"`
	// Push watch renewal, daily at 03:00
	CronScheduleRenewWatches string `env:"CRON_SCHEDULE_RENEW_WATCHES" envDefault:"0 0 3 * * *"`
}
