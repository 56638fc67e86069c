package config

import "time"

// NewTestConfig returns a finalized configuration with the production
// defaults for quota, plans and CRM rules, in UTC.
func NewTestConfig() *Config {
	c := &Config{
		Env:      EnvDev,
		Timezone: "UTC",
		Quota:    QuotaConfig{FreeQuestions: 5, SubscriptionDailyLimit: 10},
		Robokassa: RobokassaConfig{
			MerchantLogin: "oracle-shop",
			Password1:     "pass-one",
			Password2:     "pass-two",
			HashAlgorithm: "md5",
			IsTest:        true,
			BaseURL:       "https://auth.robokassa.ru/Merchant/Index.aspx",
			Culture:       "ru",
		},
		Crm: CrmConfig{
			Enabled:            true,
			PlannerInterval:    time.Hour,
			DispatcherInterval: time.Minute,
			BatchSize:          50,
			SendTimeout:        time.Second,
			StaleClaimAfter:    30 * time.Minute,
			PlannerConcurrency: 2,
			PlannerPageSize:    2,
			InactiveAfter:      72 * time.Hour,
			ReengageCooldown:   7 * 24 * time.Hour,
			ActiveWithin:       72 * time.Hour,
			DailyPromptHour:    10,
			ExpiringWithin:     24 * time.Hour,
			ExpiredWithin:      72 * time.Hour,
			FreeOfferCooldown:  7 * 24 * time.Hour,
		},
		Admin: AdminConfig{Token: "admin-secret"},
	}
	if err := c.Finalize(); err != nil {
		panic(err)
	}
	return c
}
