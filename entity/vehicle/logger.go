package vehicle

import "github.com/sirupsen/logrus"

var log = logrus.WithField("module", "vehicle")
