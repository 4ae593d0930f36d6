package options

import (
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*RedisOptions)(nil)

// RedisOptions configures the redis credential backend.
type RedisOptions struct {
	Addr      string        `json:"addr" mapstructure:"addr"`
	Username  string        `json:"username" mapstructure:"username"`
	Password  string        `json:"password" mapstructure:"password"`
	DB        int           `json:"db" mapstructure:"db"`
	KeyPrefix string        `json:"key-prefix" mapstructure:"key-prefix"`
	Timeout   time.Duration `json:"timeout" mapstructure:"timeout"`
}

// NewRedisOptions creates a new RedisOptions with default values.
func NewRedisOptions() *RedisOptions {
	return &RedisOptions{
		Addr:      "127.0.0.1:6379",
		KeyPrefix: "fordpass:token:",
		Timeout:   5 * time.Second,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *RedisOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if err := ValidateAddress(o.Addr); err != nil {
		errors = append(errors, err)
	}
	if o.DB < 0 {
		errors = append(errors, errInvalid("redis.db", o.DB))
	}

	return errors
}

// AddFlags adds flags for RedisOptions to the specified FlagSet.
func (o *RedisOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.StringVar(&o.Addr, "redis.addr", o.Addr, "Address of the redis server holding credential records.")
	fs.StringVar(&o.Username, "redis.username", o.Username, "Redis ACL username.")
	fs.StringVar(&o.Password, "redis.password", o.Password, "Redis password.")
	fs.IntVar(&o.DB, "redis.db", o.DB, "Redis database index.")
	fs.StringVar(&o.KeyPrefix, "redis.key-prefix", o.KeyPrefix, "Prefix for credential record keys.")
	fs.DurationVar(&o.Timeout, "redis.timeout", o.Timeout, "Dial, read and write timeout for redis calls.")
}
