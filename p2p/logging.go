package p2p

import "github.com/fuellabs-go/fuelnet-p2p/internal/logging"

var logger = logging.Logger("p2p")
