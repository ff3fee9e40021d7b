package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"stacklend/internal/model"
	"stacklend/internal/stacks"
	"stacklend/internal/sui"
)

// Withdrawing below this health factor would leave outstanding debt
// under-collateralized: remaining STX * assumed price * LTV must still
// cover the borrowed USDC.
const (
	withdrawGuardStxPrice = 2.0
	withdrawGuardLTV      = 0.6
)

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]interface{}{
		"success": false,
		"message": message,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":   true,
		"message":   "relayer api is running",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handlePosition(w http.ResponseWriter, r *http.Request) {
	address := mux.Vars(r)["address"]

	position, err := s.positions.GetPosition(r.Context(), address)
	if err != nil {
		s.logger.Error("position lookup failed", zap.String("address", address), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if position == nil {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":  true,
		"position": position,
	})
}

type withdrawRequest struct {
	SuiAddress string  `json:"suiAddress"`
	Amount     float64 `json:"amount"` // whole STX
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req withdrawRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.SuiAddress == "" || req.Amount == 0 {
		writeError(w, http.StatusBadRequest, "missing required fields: suiAddress, amount")
		return
	}
	if req.Amount < 0 {
		writeError(w, http.StatusBadRequest, "amount must be greater than 0")
		return
	}

	position, err := s.positions.GetPosition(r.Context(), req.SuiAddress)
	if err != nil {
		s.logger.Error("withdraw position check failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if position == nil {
		writeError(w, http.StatusNotFound, "position not found")
		return
	}

	if position.StxCollateral < req.Amount {
		writeError(w, http.StatusBadRequest,
			fmt.Sprintf("insufficient collateral, available: %g STX", position.StxCollateral))
		return
	}

	if position.UsdcBorrowed > 0 {
		remaining := position.StxCollateral - req.Amount
		maxDebtAfter := remaining * withdrawGuardStxPrice * withdrawGuardLTV
		if position.UsdcBorrowed > maxDebtAfter {
			writeError(w, http.StatusBadRequest,
				"cannot withdraw: would under-collateralize position, repay debt first")
			return
		}
	}

	stacksAddress := s.stacksAddressFor(req.SuiAddress)
	if stacksAddress == "" {
		writeError(w, http.StatusNotFound, "stacks address mapping not found")
		return
	}

	microAmount := uint64(math.Round(req.Amount * model.MicroStxFactor))

	s.logger.Info("api withdrawal requested",
		zap.String("sui_address", req.SuiAddress),
		zap.String("stacks_address", stacksAddress),
		zap.Uint64("amount", microAmount),
	)

	suiDigest, err := s.suiUnlocker.UnlockCollateral(r.Context(), req.SuiAddress, microAmount)
	if err != nil {
		s.logger.Error("api sui unlock failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "withdrawal failed")
		return
	}

	var stacksTxID string
	var warning string
	stacksTxID, err = s.stacksUnlocker.Unlock(r.Context(), stacksAddress, microAmount)
	if err != nil {
		if !errors.Is(err, stacks.ErrInsufficientFunds) {
			s.logger.Error("api stacks unlock failed after sui unlock",
				zap.String("sui_digest", suiDigest), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "withdrawal failed")
			return
		}
		warning = "stacks unlock skipped: insufficient relayer funds, stx unlocked on sui only"
		s.logger.Warn("api stacks unlock skipped", zap.String("sui_digest", suiDigest))
	}

	response := map[string]interface{}{
		"success":       true,
		"message":       "withdrawal successful",
		"suiAddress":    req.SuiAddress,
		"stacksAddress": stacksAddress,
		"amount":        req.Amount,
		"transactions": map[string]string{
			"sui":    suiDigest,
			"stacks": stacksTxID,
		},
	}
	if warning != "" {
		response["warning"] = warning
	}
	writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleCollateralStatus(w http.ResponseWriter, r *http.Request) {
	stacksAddress := mux.Vars(r)["stacksAddress"]
	if stacksAddress == "" || stacksAddress[0] != 'S' {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status":  "invalid",
			"message": "invalid stacks address format",
		})
		return
	}

	// A deposit relayed moments ago may not be indexed through the
	// registry yet; the notifier cache answers first.
	if recent, ok := s.registrations.Get(stacksAddress); ok {
		position, err := s.getPositionQuiet(r, recent.SuiAddress)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
				"status":  "error",
				"message": "failed to check collateral status",
			})
			return
		}
		if position != nil && position.StxCollateral > 0 {
			s.writeRegistered(w, stacksAddress, recent.SuiAddress, position)
			return
		}
	}

	relayerState := s.store.Load()
	suiAddress, ok := relayerState.AddressMappings[stacksAddress]
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status":        "pending",
			"message":       "waiting for deposit transaction to be detected",
			"stacksAddress": stacksAddress,
			"estimatedTime": "10-30 seconds",
		})
		return
	}

	position, err := s.getPositionQuiet(r, suiAddress)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status":  "error",
			"message": "failed to check collateral status",
		})
		return
	}

	if position != nil && position.StxCollateral > 0 {
		s.writeRegistered(w, stacksAddress, suiAddress, position)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "pending",
		"message":       "registering collateral on sui",
		"stacksAddress": stacksAddress,
		"suiAddress":    truncateAddress(suiAddress),
		"estimatedTime": "15-45 seconds",
	})
}

func (s *Server) writeRegistered(w http.ResponseWriter, stacksAddress, suiAddress string, position *sui.Position) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":        "registered",
		"message":       "collateral registered, borrowing available",
		"stacksAddress": stacksAddress,
		"suiAddress":    suiAddress,
		"collateral": map[string]interface{}{
			"stxAmount":   position.StxCollateral,
			"borrowPower": position.BorrowPower,
			"objectId":    position.ObjectID,
		},
	})
}

func (s *Server) handleLookup(w http.ResponseWriter, r *http.Request) {
	stacksAddress := mux.Vars(r)["stacksAddress"]

	relayerState := s.store.Load()
	suiAddress, ok := relayerState.AddressMappings[stacksAddress]
	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success":       false,
			"message":       "no sui address mapped for this stacks address",
			"stacksAddress": stacksAddress,
		})
		return
	}

	position, err := s.positions.GetPosition(r.Context(), suiAddress)
	if err != nil {
		s.logger.Error("lookup position failed", zap.String("sui_address", suiAddress), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	if position == nil {
		writeJSON(w, http.StatusNotFound, map[string]interface{}{
			"success":       false,
			"message":       "no collateral position found",
			"stacksAddress": stacksAddress,
			"suiAddress":    suiAddress,
		})
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":       true,
		"stacksAddress": stacksAddress,
		"position":      position,
	})
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"state":   s.store.Load(),
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	count, err := s.refresher.Refresh(r.Context())
	if err != nil {
		s.logger.Error("manual refresh failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "indexer refresh failed")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "indexer refresh triggered",
		"events":  count,
	})
}

// getPositionQuiet logs read failures without aborting the caller's flow
// decision.
func (s *Server) getPositionQuiet(r *http.Request, suiAddress string) (*sui.Position, error) {
	position, err := s.positions.GetPosition(r.Context(), suiAddress)
	if err != nil {
		s.logger.Error("position read failed during status check",
			zap.String("sui_address", suiAddress), zap.Error(err))
	}
	return position, err
}

// stacksAddressFor reverse-resolves the Stacks principal mapped to a Sui
// address.
func (s *Server) stacksAddressFor(suiAddress string) string {
	relayerState := s.store.Load()
	for stacksAddr, mapped := range relayerState.AddressMappings {
		if mapped == suiAddress {
			return stacksAddr
		}
	}
	return ""
}

// truncateAddress shortens a Sui address for display without exposing the
// full mapping.
func truncateAddress(address string) string {
	if len(address) <= 30 {
		return address
	}
	return address[:20] + "..." + address[len(address)-10:]
}
