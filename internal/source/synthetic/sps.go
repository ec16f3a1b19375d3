package synthetic

// bitWriter assembles bitstream syntax elements MSB first.
type bitWriter struct {
	buf []byte
	bit int
}

func (w *bitWriter) writeBit(b uint) {
	if w.bit == 0 {
		w.buf = append(w.buf, 0)
	}
	if b != 0 {
		w.buf[len(w.buf)-1] |= 1 << (7 - w.bit)
	}
	w.bit = (w.bit + 1) % 8
}

func (w *bitWriter) writeBits(v uint, n int) {
	for i := n - 1; i >= 0; i-- {
		w.writeBit((v >> i) & 1)
	}
}

// writeUE writes an unsigned Exp-Golomb code.
func (w *bitWriter) writeUE(v uint) {
	v++
	n := 0
	for tmp := v; tmp > 1; tmp >>= 1 {
		n++
	}
	for i := 0; i < n; i++ {
		w.writeBit(0)
	}
	w.writeBits(v, n+1)
}

// finish appends the RBSP stop bit and zero-pads to a byte boundary.
func (w *bitWriter) finish() []byte {
	w.writeBit(1)
	for w.bit != 0 {
		w.writeBit(0)
	}
	return w.buf
}

// escapeRBSP inserts emulation prevention bytes so the payload never forms a
// start code.
func escapeRBSP(rbsp []byte) []byte {
	out := make([]byte, 0, len(rbsp))
	zeros := 0
	for _, b := range rbsp {
		if zeros >= 2 && b <= 3 {
			out = append(out, 0x03)
			zeros = 0
		}
		out = append(out, b)
		if b == 0 {
			zeros++
		} else {
			zeros = 0
		}
	}
	return out
}

// buildSPS emits a Baseline profile level 3.0 SPS for the given display
// dimensions, cropping when they are not macroblock aligned.
func buildSPS(width, height int) []byte {
	mbsW := (width + 15) / 16
	mbsH := (height + 15) / 16
	cropRight := (mbsW*16 - width) / 2
	cropBottom := (mbsH*16 - height) / 2

	w := &bitWriter{}
	w.writeBits(66, 8)   // profile_idc: Baseline
	w.writeBits(0, 8)    // constraint flags + reserved
	w.writeBits(30, 8)   // level_idc: 3.0
	w.writeUE(0)         // seq_parameter_set_id
	w.writeUE(0)         // log2_max_frame_num_minus4
	w.writeUE(0)         // pic_order_cnt_type
	w.writeUE(0)         // log2_max_pic_order_cnt_lsb_minus4
	w.writeUE(1)         // max_num_ref_frames
	w.writeBit(0)        // gaps_in_frame_num_value_allowed_flag
	w.writeUE(uint(mbsW - 1))
	w.writeUE(uint(mbsH - 1))
	w.writeBit(1) // frame_mbs_only_flag
	w.writeBit(1) // direct_8x8_inference_flag

	if cropRight > 0 || cropBottom > 0 {
		w.writeBit(1) // frame_cropping_flag
		w.writeUE(0)
		w.writeUE(uint(cropRight))
		w.writeUE(0)
		w.writeUE(uint(cropBottom))
	} else {
		w.writeBit(0)
	}
	w.writeBit(0) // vui_parameters_present_flag

	return append([]byte{0x67}, escapeRBSP(w.finish())...)
}

// buildPPS emits a minimal PPS matching the generated SPS.
func buildPPS() []byte {
	w := &bitWriter{}
	w.writeUE(0)       // pic_parameter_set_id
	w.writeUE(0)       // seq_parameter_set_id
	w.writeBit(0)      // entropy_coding_mode_flag: CAVLC
	w.writeBit(0)      // bottom_field_pic_order_in_frame_present_flag
	w.writeUE(0)       // num_slice_groups_minus1
	w.writeUE(0)       // num_ref_idx_l0_default_active_minus1
	w.writeUE(0)       // num_ref_idx_l1_default_active_minus1
	w.writeBit(0)      // weighted_pred_flag
	w.writeBits(0, 2)  // weighted_bipred_idc
	w.writeUE(0)       // pic_init_qp_minus26 (se, zero encodes the same)
	w.writeUE(0)       // pic_init_qs_minus26
	w.writeUE(0)       // chroma_qp_index_offset
	w.writeBit(1)      // deblocking_filter_control_present_flag
	w.writeBit(0)      // constrained_intra_pred_flag
	w.writeBit(0)      // redundant_pic_cnt_present_flag

	return append([]byte{0x68}, escapeRBSP(w.finish())...)
}
